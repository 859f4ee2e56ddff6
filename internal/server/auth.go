package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"stringer/internal/engine/auth"
)

type AuthConfig struct {
	Service       auth.Service
	DevLoginEmail string // empty disables the dev-login endpoint
}

type Principal struct {
	UserID     string
	Role       string
	NewsroomID string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, huma.StatusError) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, newAPIError(http.StatusUnauthorized, "session_expired", "authentication required", nil)
	}
	return p, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// openPaths don't require a bearer token.
func openPaths(basePath string) map[string]bool {
	open := map[string]bool{}
	for _, p := range []string{"health", "auth/login", "auth/register", "auth/refresh", "auth/dev/login"} {
		open[path.Join(basePath, p)] = true
	}
	return open
}

func newAuthMiddleware(basePath string, svc auth.Service) func(http.Handler) http.Handler {
	open := openPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "session_expired", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			claims, err := svc.VerifyToken(token, auth.TokenTypeAccess)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "session_expired", "session expired", nil))
				return
			}
			p := Principal{
				UserID:     claims.Subject,
				Role:       claims.Role,
				NewsroomID: claims.NewsroomID,
			}
			// Admins may act across newsrooms via the tenant header.
			if p.Role == "admin" {
				if v := strings.TrimSpace(req.Header.Get("X-Newsroom-ID")); v != "" {
					p.NewsroomID = v
				}
			}
			ctx := withPrincipal(req.Context(), p)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
