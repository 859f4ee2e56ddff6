package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"stringer/internal/app"
	"stringer/internal/config"
	"stringer/internal/db"
	"stringer/internal/engine"
	"stringer/internal/engine/auth"
	"stringer/internal/migrate"
	"stringer/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default("Test Newsroom")
	cfg.Data.Dir = dir
	conn, err := db.Open(db.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := app.EnsureSeed(context.Background(), cfg, r); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := engine.New(conn, cfg)
	authCfg := AuthConfig{
		Service:       auth.NewService(conn, cfg.Auth.JWTSecret),
		DevLoginEmail: cfg.Auth.DevLogin.Email,
	}
	handler, err := New(Config{Engine: e, Auth: authCfg, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env
}

func register(t *testing.T, srv *testServer, email, role, newsroomID string) TokenResponse {
	t.Helper()
	body := map[string]any{
		"email":    email,
		"password": "password123",
		"name":     email,
		"role":     role,
	}
	if newsroomID != "" {
		body["newsroom_id"] = newsroomID
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/register", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s status %d: %s", email, res.StatusCode, string(data))
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatalf("unmarshal token response: %v", err)
	}
	return tok
}

func bearer(tok TokenResponse) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}
}

func TestAuthLoginAndRefresh(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	tok := register(t, srv, "editor@test.example", "editor", "default-newsroom")

	// Wrong password.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "editor@test.example",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", env.Error.Code)
	}

	// Good password.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "editor@test.example",
		"password": "password123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var logged TokenResponse
	_ = json.Unmarshal(data, &logged)
	if logged.AccessToken == "" || logged.RefreshToken == "" {
		t.Fatalf("missing tokens: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/me", nil, bearer(logged))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}

	// Refresh rotates the pair and revokes the old refresh token.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": logged.RefreshToken,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d: %s", res.StatusCode, string(data))
	}
	var rotated TokenResponse
	_ = json.Unmarshal(data, &rotated)
	if rotated.RefreshToken == logged.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": logged.RefreshToken,
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "session_expired" {
		t.Fatalf("expected session_expired, got %s", env.Error.Code)
	}

	// A refresh token is not an access token.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/me", nil, map[string]string{
		"Authorization": "Bearer " + rotated.RefreshToken,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh-as-access status %d: %s", res.StatusCode, string(data))
	}

	// No credentials at all.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "session_expired" {
		t.Fatalf("expected session_expired, got %s", env.Error.Code)
	}
	_ = tok
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var tok TokenResponse
	_ = json.Unmarshal(data, &tok)
	if tok.User.Email != "dev@example.com" {
		t.Fatalf("unexpected dev user: %s", tok.User.Email)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/users/me", nil, bearer(tok))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with dev token status %d: %s", res.StatusCode, string(data))
	}
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	editor := register(t, srv, "ed@test.example", "editor", "default-newsroom")
	journalist := register(t, srv, "jo@test.example", "journalist", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments", map[string]any{
		"journalist_id":       journalist.User.ID,
		"title":               "Transit desert series",
		"agreed_rate":         50000,
		"kill_fee_percentage": 25,
	}, bearer(editor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var a struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &a)

	// Journalists cannot commission assignments.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments", map[string]any{
		"journalist_id": journalist.User.ID,
		"title":         "Nope",
		"agreed_rate":   100,
	}, bearer(journalist))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("journalist create status %d: %s", res.StatusCode, string(data))
	}

	// Only the assigned journalist starts work.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "in_progress",
	}, bearer(editor))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("editor start status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "in_progress",
	}, bearer(journalist))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}

	// Skipping submitted is an invalid transition.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "approved",
	}, bearer(editor))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("skip status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "submitted",
	}, bearer(journalist))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	// Revision without notes is invalid input.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "revision_requested",
	}, bearer(editor))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("notesless revision status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "invalid_input" {
		t.Fatalf("expected invalid_input, got %s", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status":         "revision_requested",
		"revision_notes": "needs a second source",
	}, bearer(editor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("revision status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
		"status": "submitted",
	}, bearer(journalist))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resubmit status %d: %s", res.StatusCode, string(data))
	}
	for _, status := range []string{"approved", "published"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments/"+a.ID+"/status", map[string]any{
			"status": status,
		}, bearer(editor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", status, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments/"+a.ID+"/timeline", nil, bearer(journalist))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline status %d: %s", res.StatusCode, string(data))
	}
	var timeline TimelineResponse
	_ = json.Unmarshal(data, &timeline)
	if len(timeline.Items) != 7 {
		t.Fatalf("expected 7 timeline events, got %d: %s", len(timeline.Items), string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments/"+a.ID+"/payments", nil, bearer(journalist))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("payments status %d: %s", res.StatusCode, string(data))
	}
	var payments PaymentListResponse
	_ = json.Unmarshal(data, &payments)
	if len(payments.Items) != 1 || payments.Items[0].Amount != 50000 {
		t.Fatalf("unexpected payments: %s", string(data))
	}
}

func TestAssignmentScopeHiddenAcrossUsers(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	editor := register(t, srv, "ed@test.example", "editor", "default-newsroom")
	jo1 := register(t, srv, "jo1@test.example", "journalist", "")
	jo2 := register(t, srv, "jo2@test.example", "journalist", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments", map[string]any{
		"journalist_id": jo1.User.ID,
		"title":         "Scoped story",
		"agreed_rate":   100,
	}, bearer(editor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var a struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &a)

	// Another journalist sees not_found, not forbidden.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments/"+a.ID, nil, bearer(jo2))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-journalist get status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %s", env.Error.Code)
	}

	// Listing is scoped per caller.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments", nil, bearer(jo2))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page AssignmentListResponse
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 0 {
		t.Fatalf("expected empty list for jo2, got %d", len(page.Items))
	}
}

func TestPitchFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	editor := register(t, srv, "ed@test.example", "editor", "default-newsroom")
	journalist := register(t, srv, "jo@test.example", "journalist", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitch-windows", map[string]any{
		"title": "Summer features",
		"beats": []string{"science"},
	}, bearer(editor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create window status %d: %s", res.StatusCode, string(data))
	}
	var w struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &w)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitch-windows/"+w.ID+"/status", map[string]any{
		"status": "open",
	}, bearer(editor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open window status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitches", map[string]any{
		"window_id":     w.ID,
		"headline":      "Coral reef restoration economics",
		"proposed_rate": 40000,
		"submit":        true,
	}, bearer(journalist))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create pitch status %d: %s", res.StatusCode, string(data))
	}
	var p struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &p)

	// Editors cannot pitch.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitches", map[string]any{
		"window_id": w.ID,
		"headline":  "Editor pitch",
	}, bearer(editor))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("editor pitch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitches/"+p.ID+"/status", map[string]any{
		"status": "under_review",
	}, bearer(editor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("under_review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitches/"+p.ID+"/accept", map[string]any{
		"kill_fee_percentage": 25,
	}, bearer(editor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var a struct {
		ID         string `json:"id"`
		AgreedRate int64  `json:"agreed_rate"`
	}
	_ = json.Unmarshal(data, &a)
	if a.AgreedRate != 40000 {
		t.Fatalf("expected proposed rate carried into assignment, got %d", a.AgreedRate)
	}

	// Accepting twice conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pitches/"+p.ID+"/accept", map[string]any{}, bearer(editor))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double accept status %d: %s", res.StatusCode, string(data))
	}
}

func TestListPagination(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	editor := register(t, srv, "ed@test.example", "editor", "default-newsroom")
	journalist := register(t, srv, "jo@test.example", "journalist", "")

	for i := 0; i < 5; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/assignments", map[string]any{
			"journalist_id": journalist.User.ID,
			"title":         fmt.Sprintf("Story %d", i),
			"agreed_rate":   100,
		}, bearer(editor))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d status %d: %s", i, res.StatusCode, string(data))
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		u := srv.URL + "/v1/assignments?limit=2"
		if cursor != "" {
			u += "&cursor=" + cursor
		}
		res, data := doJSON(t, client, http.MethodGet, u, nil, bearer(editor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list status %d: %s", res.StatusCode, string(data))
		}
		var page AssignmentListResponse
		_ = json.Unmarshal(data, &page)
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("assignment %s returned twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 assignments across pages, got %d", len(seen))
	}
}
