package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stringer/internal/domain"
	"stringer/internal/engine"
	"stringer/internal/engine/auth"
	"stringer/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Auth     AuthConfig
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid assignment status transition published -> submitted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stringer API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are the caller's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth.Service))
	hcfg := huma.DefaultConfig("Stringer API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Auth)
	registerMe(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerPitchWindows(group, cfg.Engine)
	registerPitches(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerWebhooks(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the wire taxonomy.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te *engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	if errors.Is(err, engine.ErrRevisionBudgetExceeded) {
		return newAPIError(http.StatusConflict, "revision_budget_exceeded", err.Error(), nil)
	}
	var ie *engine.InvalidInputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_input", err.Error(), map[string]any{"field": ie.Field})
	}
	if errors.Is(err, engine.ErrInvalidCredentials) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	if errors.Is(err, engine.ErrSessionExpired) {
		return newAPIError(http.StatusUnauthorized, "session_expired", "session expired", nil)
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "session_expired"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_input"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := openPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stringer API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;access token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, authCfg AuthConfig) {
	svc := authCfg.Service

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in with email and password",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, pair, err := svc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: tokenResponse(u, pair)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Create an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, pair, err := svc.Register(ctx, auth.RegisterOptions{
			Email:      input.Body.Email,
			Password:   input.Body.Password,
			Name:       input.Body.Name,
			Role:       input.Body.Role,
			NewsroomID: stringOrEmpty(input.Body.NewsroomID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: tokenResponse(u, pair)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Rotate a token pair",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.RefreshToken) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "refresh_token is required", nil)
		}
		u, pair, err := svc.Refresh(ctx, input.Body.RefreshToken)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: tokenResponse(u, pair)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Revoke all refresh tokens for the current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := svc.Logout(ctx, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	if authCfg.DevLoginEmail != "" {
		huma.Register(api, huma.Operation{
			OperationID: "dev-login",
			Method:      http.MethodPost,
			Path:        "/auth/dev/login",
			Summary:     "DEV ONLY: mint a token pair for the seeded dev user",
			Errors:      []int{http.StatusInternalServerError},
		}, func(ctx context.Context, _ *struct{}) (*struct {
			Body TokenResponse `json:"body"`
		}, error) {
			u, err := svc.Repo.GetUserByEmail(ctx, authCfg.DevLoginEmail)
			if err != nil {
				return nil, handleError(err)
			}
			pair, err := svc.DevPair(ctx, u)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TokenResponse `json:"body"`
			}{Body: tokenResponse(u, pair)}, nil
		})
	}
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/users/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Commission an assignment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireEditor(p); err != nil {
			return nil, handleError(err)
		}
		opts := engine.AssignmentCreateOptions{
			NewsroomID:        p.NewsroomID,
			EditorID:          p.UserID,
			JournalistID:      input.Body.JournalistID,
			Title:             input.Body.Title,
			Brief:             stringOrEmpty(input.Body.Brief),
			AgreedRate:        input.Body.AgreedRate,
			KillFeePercentage: input.Body.KillFeePercentage,
			MaxRevisions:      input.Body.MaxRevisions,
			Deadline:          stringOrEmpty(input.Body.Deadline),
			ActorID:           p.UserID,
		}
		a, err := e.CreateAssignment(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignments",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body AssignmentListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorCreatedAt, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		f := repo.AssignmentFilters{
			Status:          input.Status,
			Limit:           normalizeLimit(input.Limit),
			CursorCreatedAt: cursorCreatedAt,
			CursorID:        cursorID,
		}
		// Journalists see their own work; editors see their newsroom's.
		switch p.Role {
		case "journalist":
			f.JournalistID = p.UserID
		default:
			f.NewsroomID = p.NewsroomID
		}
		items, err := e.Repo.ListAssignments(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) == f.Limit {
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body AssignmentListResponse `json:"body"`
		}{Body: AssignmentListResponse{Items: nonNilSlice(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Get assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := loadVisibleAssignment(ctx, e, p, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-assignment",
		Method:      http.MethodPatch,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Edit assignment fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AssignmentID string                 `path:"assignment_id"`
		Body         PatchAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireEditor(p); err != nil {
			return nil, handleError(err)
		}
		if _, err := loadVisibleAssignment(ctx, e, p, input.AssignmentID); err != nil {
			return nil, handleError(err)
		}
		a, err := e.PatchAssignment(ctx, engine.AssignmentPatchOptions{
			ID:                input.AssignmentID,
			Title:             input.Body.Title,
			Brief:             input.Body.Brief,
			Deadline:          input.Body.Deadline,
			AgreedRate:        input.Body.AgreedRate,
			KillFeePercentage: input.Body.KillFeePercentage,
			MaxRevisions:      input.Body.MaxRevisions,
			ActorID:           p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-assignment-status",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/status",
		Summary:     "Transition an assignment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		AssignmentID string              `path:"assignment_id"`
		Body         ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := loadVisibleAssignment(ctx, e, p, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := allowTransition(p, a, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.ChangeAssignmentStatus(ctx, engine.StatusChangeOptions{
			ID:            input.AssignmentID,
			NewStatus:     input.Body.Status,
			RevisionNotes: stringOrEmpty(input.Body.RevisionNotes),
			ActorID:       p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assignment-timeline",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/timeline",
		Summary:     "Assignment timeline, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body TimelineResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadVisibleAssignment(ctx, e, p, input.AssignmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTimeline(ctx, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimelineResponse `json:"body"`
		}{Body: TimelineResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assignment-payments",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/payments",
		Summary:     "Payments for an assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body PaymentListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadVisibleAssignment(ctx, e, p, input.AssignmentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPayments(ctx, repo.PaymentFilters{AssignmentID: input.AssignmentID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentListResponse `json:"body"`
		}{Body: PaymentListResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments in the caller's scope",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body PaymentListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.PaymentFilters{Status: input.Status}
		switch p.Role {
		case "journalist":
			f.JournalistID = p.UserID
		default:
			f.NewsroomID = p.NewsroomID
		}
		items, err := e.Repo.ListPayments(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentListResponse `json:"body"`
		}{Body: PaymentListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-payment-status",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/status",
		Summary:     "Advance a payment through the payout pipeline",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string               `path:"payment_id"`
		Body      PaymentStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != "admin" {
			return nil, handleError(auth.ForbiddenError{Action: "update payments"})
		}
		updated, err := e.SetPaymentStatus(ctx, input.PaymentID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: updated}, nil
	})
}

func registerPitchWindows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pitch-window",
		Method:        http.MethodPost,
		Path:          "/pitch-windows",
		Summary:       "Open a call for pitches",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreatePitchWindowRequest `json:"body"`
	}) (*struct {
		Body domain.PitchWindow `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireEditor(p); err != nil {
			return nil, handleError(err)
		}
		opts := engine.PitchWindowCreateOptions{
			NewsroomID:  p.NewsroomID,
			Title:       input.Body.Title,
			Beats:       input.Body.Beats,
			BudgetCents: input.Body.BudgetCents,
			OpensAt:     stringOrEmpty(input.Body.OpensAt),
			ClosesAt:    stringOrEmpty(input.Body.ClosesAt),
		}
		if input.Body.MaxPitchesPerJournalist != nil {
			opts.MaxPitchesPerJournalist = *input.Body.MaxPitchesPerJournalist
		}
		w, err := e.CreatePitchWindow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PitchWindow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pitch-windows",
		Method:      http.MethodGet,
		Path:        "/pitch-windows",
		Summary:     "List pitch windows",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body PitchWindowListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		newsroomID := ""
		// Journalists browse open windows across newsrooms.
		if p.Role != "journalist" {
			newsroomID = p.NewsroomID
		}
		items, err := e.Repo.ListPitchWindows(ctx, newsroomID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PitchWindowListResponse `json:"body"`
		}{Body: PitchWindowListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-pitch-window-status",
		Method:      http.MethodPost,
		Path:        "/pitch-windows/{window_id}/status",
		Summary:     "Open, close or cancel a pitch window",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WindowID string              `path:"window_id"`
		Body     WindowStatusRequest `json:"body"`
	}) (*struct {
		Body domain.PitchWindow `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireEditor(p); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetPitchWindow(ctx, input.WindowID)
		if err != nil {
			return nil, handleError(err)
		}
		if w.NewsroomID != p.NewsroomID && p.Role != "admin" {
			return nil, handleError(repo.ErrNotFound)
		}
		updated, err := e.SetPitchWindowStatus(ctx, input.WindowID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PitchWindow `json:"body"`
		}{Body: updated}, nil
	})
}

func registerPitches(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pitch",
		Method:        http.MethodPost,
		Path:          "/pitches",
		Summary:       "Draft or submit a pitch",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreatePitchRequest `json:"body"`
	}) (*struct {
		Body domain.Pitch `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != "journalist" {
			return nil, handleError(auth.ForbiddenError{Action: "pitch"})
		}
		pitch, err := e.CreatePitch(ctx, engine.PitchCreateOptions{
			WindowID:     input.Body.WindowID,
			JournalistID: p.UserID,
			Headline:     input.Body.Headline,
			Summary:      stringOrEmpty(input.Body.Summary),
			ProposedRate: input.Body.ProposedRate,
			Submit:       input.Body.Submit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pitch `json:"body"`
		}{Body: pitch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pitches",
		Method:      http.MethodGet,
		Path:        "/pitches",
		Summary:     "List pitches",
	}, func(ctx context.Context, input *struct {
		WindowID string `query:"window_id"`
		Status   string `query:"status"`
	}) (*struct {
		Body PitchListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		journalistID := ""
		if p.Role == "journalist" {
			journalistID = p.UserID
		}
		items, err := e.Repo.ListPitches(ctx, input.WindowID, journalistID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PitchListResponse `json:"body"`
		}{Body: PitchListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-pitch-status",
		Method:      http.MethodPost,
		Path:        "/pitches/{pitch_id}/status",
		Summary:     "Move a pitch through review",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PitchID string             `path:"pitch_id"`
		Body    PitchStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Pitch `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pitch, err := e.Repo.GetPitch(ctx, input.PitchID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := allowPitchTransition(p, pitch, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.SetPitchStatus(ctx, input.PitchID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pitch `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "accept-pitch",
		Method:        http.MethodPost,
		Path:          "/pitches/{pitch_id}/accept",
		Summary:       "Accept a pitch and commission the assignment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PitchID string             `path:"pitch_id"`
		Body    AcceptPitchRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireEditor(p); err != nil {
			return nil, handleError(err)
		}
		opts := engine.AcceptPitchOptions{
			PitchID:           input.PitchID,
			EditorID:          p.UserID,
			KillFeePercentage: input.Body.KillFeePercentage,
			MaxRevisions:      input.Body.MaxRevisions,
			Deadline:          stringOrEmpty(input.Body.Deadline),
			ActorID:           p.UserID,
		}
		if input.Body.AgreedRate != nil {
			opts.AgreedRate = *input.Body.AgreedRate
		}
		a, err := e.AcceptPitch(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})
}

func registerWebhooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-webhook",
		Method:        http.MethodPost,
		Path:          "/webhooks",
		Summary:       "Subscribe to timeline events",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateWebhookRequest `json:"body"`
	}) (*struct {
		Body WebhookResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != "admin" {
			return nil, handleError(auth.ForbiddenError{Action: "manage webhooks"})
		}
		if !strings.HasPrefix(input.Body.URL, "http://") && !strings.HasPrefix(input.Body.URL, "https://") {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "url must be http(s)", nil)
		}
		s := domain.WebhookSubscription{
			ID:        uuid.NewString(),
			URL:       input.Body.URL,
			Secret:    stringOrEmpty(input.Body.Secret),
			Active:    true,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertWebhookSubscription(ctx, s); err != nil {
			return nil, handleError(err)
		}
		// New subscriptions start at the current event head.
		if head, err := e.Repo.LatestTimelineEventID(ctx); err == nil {
			_ = e.Repo.SetWebhookCursor(ctx, s.ID, head)
		}
		return &struct {
			Body WebhookResponse `json:"body"`
		}{Body: webhookResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webhooks",
		Method:      http.MethodGet,
		Path:        "/webhooks",
		Summary:     "List webhook subscriptions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WebhookListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != "admin" {
			return nil, handleError(auth.ForbiddenError{Action: "manage webhooks"})
		}
		items, err := e.Repo.ListWebhookSubscriptions(ctx, false)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]WebhookResponse, 0, len(items))
		for _, s := range items {
			res = append(res, webhookResponse(s))
		}
		return &struct {
			Body WebhookListResponse `json:"body"`
		}{Body: WebhookListResponse{Items: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-webhook",
		Method:      http.MethodDelete,
		Path:        "/webhooks/{webhook_id}",
		Summary:     "Remove a webhook subscription",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WebhookID string `path:"webhook_id"`
	}) (*struct{}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Role != "admin" {
			return nil, handleError(auth.ForbiddenError{Action: "manage webhooks"})
		}
		if err := e.Repo.DeleteWebhookSubscription(ctx, input.WebhookID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// requireEditor admits editors and admins with a newsroom scope.
func requireEditor(p Principal) error {
	if p.Role != "editor" && p.Role != "admin" {
		return auth.ForbiddenError{Action: "act as an editor"}
	}
	if p.NewsroomID == "" {
		return auth.ForbiddenError{Action: "act without a newsroom"}
	}
	return nil
}

// loadVisibleAssignment hides assignments outside the caller's scope
// behind not_found instead of leaking their existence.
func loadVisibleAssignment(ctx context.Context, e engine.Engine, p Principal, id string) (domain.Assignment, error) {
	a, err := e.Repo.GetAssignment(ctx, id)
	if err != nil {
		return domain.Assignment{}, err
	}
	switch p.Role {
	case "journalist":
		if a.JournalistID != p.UserID {
			return domain.Assignment{}, repo.ErrNotFound
		}
	case "editor":
		if a.NewsroomID != p.NewsroomID {
			return domain.Assignment{}, repo.ErrNotFound
		}
	}
	return a, nil
}

// allowTransition is the role gate; the engine still owns the FSM.
func allowTransition(p Principal, a domain.Assignment, newStatus string) error {
	if p.Role == "admin" {
		return nil
	}
	switch newStatus {
	case engine.StatusInProgress, engine.StatusSubmitted:
		if p.Role != "journalist" || a.JournalistID != p.UserID {
			return auth.ForbiddenError{Action: "move work on someone else's assignment"}
		}
	case engine.StatusRevisionRequested, engine.StatusApproved, engine.StatusPublished, engine.StatusKilled:
		if p.Role != "editor" || a.NewsroomID != p.NewsroomID {
			return auth.ForbiddenError{Action: "review this assignment"}
		}
	}
	return nil
}

func allowPitchTransition(p Principal, pitch domain.Pitch, newStatus string) error {
	if p.Role == "admin" {
		return nil
	}
	switch newStatus {
	case engine.PitchSubmitted, engine.PitchWithdrawn:
		if p.Role != "journalist" || pitch.JournalistID != p.UserID {
			return auth.ForbiddenError{Action: "modify someone else's pitch"}
		}
	case engine.PitchUnderReview, engine.PitchAccepted, engine.PitchRejected:
		if p.Role != "editor" {
			return auth.ForbiddenError{Action: "review pitches"}
		}
	}
	return nil
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
