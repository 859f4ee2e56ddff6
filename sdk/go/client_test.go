package stringersdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func tokenBody(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_at":    time.Now().Add(15 * time.Minute).UTC().Format(time.RFC3339),
		"user":          map[string]any{"id": "u-1", "email": "jo@test.example", "role": "journalist"},
	}
}

func TestAuthenticateInstallsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/login", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, tokenBody("access-1", "refresh-1"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	s, err := c.Authenticate(context.Background(), "jo@test.example", "password123")
	require.NoError(t, err)
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, "u-1", s.User.ID)

	got, ok := c.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, s.AccessToken, got.AccessToken)

	c.Clear()
	_, ok = c.CurrentSession()
	assert.False(t, ok)
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Authenticate(context.Background(), "jo@test.example", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, ok := c.CurrentSession()
	assert.False(t, ok)
}

func TestRefreshOn401RetriesOnce(t *testing.T) {
	var refreshCalls, meCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshCalls.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			require.Equal(t, "refresh-old", body["refresh_token"])
			writeJSON(w, http.StatusOK, tokenBody("access-new", "refresh-new"))
		case "/v1/users/me":
			meCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer access-new" {
				writeAPIError(w, http.StatusUnauthorized, "session_expired", "session expired")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "u-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession(Session{AccessToken: "access-old", RefreshToken: "refresh-old"})

	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, int64(1), refreshCalls.Load())
	assert.Equal(t, int64(2), meCalls.Load(), "original call plus one retry")

	s, ok := c.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "access-new", s.AccessToken)
	assert.Equal(t, "refresh-new", s.RefreshToken)
}

func TestConcurrent401sRefreshOnce(t *testing.T) {
	var refreshCalls atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshCalls.Add(1)
			<-release
			writeJSON(w, http.StatusOK, tokenBody("access-new", "refresh-new"))
		case "/v1/users/me":
			if r.Header.Get("Authorization") != "Bearer access-new" {
				writeAPIError(w, http.StatusUnauthorized, "session_expired", "session expired")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "u-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession(Session{AccessToken: "access-old", RefreshToken: "refresh-old"})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Me(context.Background())
		}(i)
	}
	// Give every worker time to hit the 401 and pile onto the refresh.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, int64(1), refreshCalls.Load(), "concurrent 401s must coalesce into one refresh")
}

func TestFailedRefreshClearsSessionAndNotifiesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			writeAPIError(w, http.StatusUnauthorized, "session_expired", "session expired")
		default:
			writeAPIError(w, http.StatusUnauthorized, "session_expired", "session expired")
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	var notified atomic.Int64
	c.OnUnauthorized = func() { notified.Add(1) }
	c.SetSession(Session{AccessToken: "access-old", RefreshToken: "refresh-old"})

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Me(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.ErrorIs(t, err, ErrSessionExpired, "worker %d", i)
	}
	assert.Equal(t, int64(1), notified.Load(), "OnUnauthorized must fire exactly once")
	_, ok := c.CurrentSession()
	assert.False(t, ok)
}

func TestDevSessionNeverSendsAuthorization(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/dev/login":
			writeJSON(w, http.StatusOK, tokenBody("ignored", "ignored"))
		case "/v1/users/me":
			if r.Header.Get("Authorization") != "" {
				sawAuth.Store(true)
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "u-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	s, err := c.DevLogin(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Dev)
	assert.Equal(t, DevToken, s.AccessToken)

	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.False(t, sawAuth.Load(), "dev sessions must not attach a bearer header")
}

func TestDevSession401DoesNotRefresh(t *testing.T) {
	var refreshCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, tokenBody("a", "r"))
		default:
			writeAPIError(w, http.StatusUnauthorized, "session_expired", "session expired")
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession(Session{AccessToken: DevToken, Dev: true})
	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int64(0), refreshCalls.Load())
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"code":    "invalid_transition",
				"message": "invalid assignment status transition published -> submitted",
				"details": map[string]any{"from": "published", "to": "submitted"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession(Session{AccessToken: "access-1", RefreshToken: "refresh-1"})
	_, err := c.ChangeAssignmentStatus(context.Background(), "a-1", "submitted", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Equal(t, "published", apiErr.Details["from"])
}

func TestTransportErrorClassification(t *testing.T) {
	// Connection refused.
	c := New("http://127.0.0.1:1")
	c.Timeout = time.Second
	_, err := c.Me(context.Background())
	require.ErrorIs(t, err, ErrNetworkUnavailable)

	// Server slower than the client timeout.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"id": "u-1"})
	}))
	defer slow.Close()

	c = New(slow.URL)
	c.HTTPClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err = c.Me(context.Background())
	require.Error(t, err)
	if !errors.Is(err, ErrRequestTimedOut) && !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
	assert.ErrorIs(t, err, ErrRequestTimedOut)
}

func TestNewsroomOverrideHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nr-2", r.Header.Get("X-Newsroom-ID"))
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession(Session{AccessToken: "admin-token"})
	c.NewsroomID = "nr-2"
	_, err := c.ListPayments(context.Background(), "")
	require.NoError(t, err)
}
