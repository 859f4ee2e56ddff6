package stringersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DevToken is the placeholder credential for local dev sessions. It is
// never attached to a request; the server's dev login endpoint does not
// require a bearer header and every other call made under a dev session
// goes out unauthenticated.
const DevToken = "dev_token"

// Sentinel errors callers can match with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrRequestTimedOut    = errors.New("request timed out")
)

// Client is a Stringer HTTP API client that manages its own session:
// it attaches the access token, refreshes once on 401, and notifies
// the owner when the session can no longer be recovered.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	// NewsroomID, when set by an admin caller, is sent as the
	// X-Newsroom-ID tenant override header.
	NewsroomID string

	// OnUnauthorized fires once when a refresh attempt fails and the
	// session is cleared. Optional.
	OnUnauthorized func()

	mu      sync.Mutex
	session *Session
	refresh singleflight.Group
}

// Session holds the current token pair and user identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
	Dev          bool      `json:"dev,omitempty"`
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User mirrors the API user model.
type User struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	NewsroomID *string `json:"newsroom_id,omitempty"`
}

// Assignment mirrors the API assignment model.
type Assignment struct {
	ID                string  `json:"id"`
	NewsroomID        string  `json:"newsroom_id"`
	PitchID           *string `json:"pitch_id,omitempty"`
	EditorID          string  `json:"editor_id"`
	JournalistID      string  `json:"journalist_id"`
	Title             string  `json:"title"`
	Brief             string  `json:"brief,omitempty"`
	Status            string  `json:"status"`
	AgreedRate        int64   `json:"agreed_rate"`
	KillFeePercentage int     `json:"kill_fee_percentage"`
	RevisionCount     int     `json:"revision_count"`
	MaxRevisions      int     `json:"max_revisions"`
	Deadline          *string `json:"deadline,omitempty"`
	StartedAt         *string `json:"started_at,omitempty"`
	SubmittedAt       *string `json:"submitted_at,omitempty"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	PublishedAt       *string `json:"published_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// TimelineEvent is one append-only history entry.
type TimelineEvent struct {
	ID           int64  `json:"id"`
	AssignmentID string `json:"assignment_id"`
	Status       string `json:"status"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	ActorID      string `json:"actor_id"`
	Timestamp    string `json:"timestamp"`
}

// Payment is a payout intent raised by the assignment lifecycle.
type Payment struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	NewsroomID   string `json:"newsroom_id"`
	JournalistID string `json:"journalist_id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	PlatformFee  int64  `json:"platform_fee"`
	NetAmount    int64  `json:"net_amount"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// PitchWindow is a call for pitches.
type PitchWindow struct {
	ID                      string   `json:"id"`
	NewsroomID              string   `json:"newsroom_id"`
	Title                   string   `json:"title"`
	Beats                   []string `json:"beats,omitempty"`
	BudgetCents             int64    `json:"budget_cents,omitempty"`
	MaxPitchesPerJournalist int      `json:"max_pitches_per_journalist"`
	OpensAt                 *string  `json:"opens_at,omitempty"`
	ClosesAt                *string  `json:"closes_at,omitempty"`
	Status                  string   `json:"status"`
	CreatedAt               string   `json:"created_at"`
	UpdatedAt               string   `json:"updated_at"`
}

// Pitch is a journalist's story proposal.
type Pitch struct {
	ID           string `json:"id"`
	WindowID     string `json:"window_id"`
	JournalistID string `json:"journalist_id"`
	Headline     string `json:"headline"`
	Summary      string `json:"summary,omitempty"`
	ProposedRate int64  `json:"proposed_rate"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Webhook is a timeline event subscription.
type Webhook struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses with the decoded error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	User         User   `json:"user"`
}

// AssignmentPage wraps assignment listings with a cursor.
type AssignmentPage struct {
	Items      []Assignment `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// Authenticate logs in and installs the resulting session.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Session, error) {
	return c.obtainSession(ctx, "auth/login", map[string]any{
		"email":    email,
		"password": password,
	})
}

// RegisterOptions describes a new account.
type RegisterOptions struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	NewsroomID string `json:"newsroom_id,omitempty"`
}

// Register creates an account and installs the resulting session.
func (c *Client) Register(ctx context.Context, opts RegisterOptions) (Session, error) {
	return c.obtainSession(ctx, "auth/register", opts)
}

// DevLogin installs a dev session. The session's access token is the
// DevToken placeholder and is never attached to requests.
func (c *Client) DevLogin(ctx context.Context) (Session, error) {
	var payload tokenPayload
	if err := c.doOnce(ctx, http.MethodPost, "auth/dev/login", nil, &payload, ""); err != nil {
		return Session{}, err
	}
	s := Session{
		AccessToken:  DevToken,
		RefreshToken: "",
		User:         payload.User,
		Dev:          true,
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	return s, nil
}

// CurrentSession returns a copy of the active session, if any.
func (c *Client) CurrentSession() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// SetSession installs a previously persisted session.
func (c *Client) SetSession(s Session) {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
}

// Clear drops the session without notifying OnUnauthorized.
func (c *Client) Clear() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Logout revokes the user's refresh tokens server side and clears the
// local session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "auth/logout", nil, nil)
	c.Clear()
	return err
}

func (c *Client) obtainSession(ctx context.Context, endpoint string, body any) (Session, error) {
	var payload tokenPayload
	if err := c.doOnce(ctx, http.MethodPost, endpoint, body, &payload, ""); err != nil {
		return Session{}, err
	}
	exp, _ := time.Parse(time.RFC3339, payload.ExpiresAt)
	s := Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    exp,
		User:         payload.User,
	}
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	return s, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "users/me", nil, &u)
	return u, err
}

// CreateAssignmentOptions describe a direct commission.
type CreateAssignmentOptions struct {
	JournalistID      string  `json:"journalist_id"`
	Title             string  `json:"title"`
	Brief             string  `json:"brief,omitempty"`
	AgreedRate        int64   `json:"agreed_rate"`
	KillFeePercentage int     `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
	Deadline          *string `json:"deadline,omitempty"`
}

// CreateAssignment commissions an assignment.
func (c *Client) CreateAssignment(ctx context.Context, opts CreateAssignmentOptions) (Assignment, error) {
	var a Assignment
	err := c.do(ctx, http.MethodPost, "assignments", opts, &a)
	return a, err
}

// ListAssignmentsOptions filter assignment listings.
type ListAssignmentsOptions struct {
	Status string
	Limit  int
	Cursor string
}

// ListAssignments returns a page of assignments in the caller's scope.
func (c *Client) ListAssignments(ctx context.Context, opts ListAssignmentsOptions) (AssignmentPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := "assignments"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var page AssignmentPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &page)
	return page, err
}

// GetAssignment fetches one assignment.
func (c *Client) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	var a Assignment
	err := c.do(ctx, http.MethodGet, "assignments/"+url.PathEscape(id), nil, &a)
	return a, err
}

// PatchAssignmentOptions carry partial edits; nil fields are untouched.
type PatchAssignmentOptions struct {
	Title             *string `json:"title,omitempty"`
	Brief             *string `json:"brief,omitempty"`
	Deadline          *string `json:"deadline,omitempty"`
	AgreedRate        *int64  `json:"agreed_rate,omitempty"`
	KillFeePercentage *int    `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
}

// PatchAssignment edits assignment fields.
func (c *Client) PatchAssignment(ctx context.Context, id string, opts PatchAssignmentOptions) (Assignment, error) {
	var a Assignment
	err := c.do(ctx, http.MethodPatch, "assignments/"+url.PathEscape(id), opts, &a)
	return a, err
}

// ChangeAssignmentStatus transitions an assignment. revisionNotes is
// required when the new status is revision_requested.
func (c *Client) ChangeAssignmentStatus(ctx context.Context, id, status, revisionNotes string) (Assignment, error) {
	body := map[string]any{"status": status}
	if revisionNotes != "" {
		body["revision_notes"] = revisionNotes
	}
	var a Assignment
	err := c.do(ctx, http.MethodPost, "assignments/"+url.PathEscape(id)+"/status", body, &a)
	return a, err
}

// Timeline returns the assignment history, oldest first.
func (c *Client) Timeline(ctx context.Context, assignmentID string) ([]TimelineEvent, error) {
	var resp struct {
		Items []TimelineEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "assignments/"+url.PathEscape(assignmentID)+"/timeline", nil, &resp)
	return resp.Items, err
}

// AssignmentPayments returns the payments raised for an assignment.
func (c *Client) AssignmentPayments(ctx context.Context, assignmentID string) ([]Payment, error) {
	var resp struct {
		Items []Payment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "assignments/"+url.PathEscape(assignmentID)+"/payments", nil, &resp)
	return resp.Items, err
}

// ListPayments returns payments in the caller's scope.
func (c *Client) ListPayments(ctx context.Context, status string) ([]Payment, error) {
	endpoint := "payments"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Payment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SetPaymentStatus advances a payment. Admin only.
func (c *Client) SetPaymentStatus(ctx context.Context, id, status string) (Payment, error) {
	var p Payment
	err := c.do(ctx, http.MethodPost, "payments/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &p)
	return p, err
}

// CreatePitchWindowOptions describe a call for pitches.
type CreatePitchWindowOptions struct {
	Title                   string   `json:"title"`
	Beats                   []string `json:"beats,omitempty"`
	BudgetCents             int64    `json:"budget_cents,omitempty"`
	MaxPitchesPerJournalist *int     `json:"max_pitches_per_journalist,omitempty"`
	OpensAt                 *string  `json:"opens_at,omitempty"`
	ClosesAt                *string  `json:"closes_at,omitempty"`
}

// CreatePitchWindow opens a call for pitches in draft status.
func (c *Client) CreatePitchWindow(ctx context.Context, opts CreatePitchWindowOptions) (PitchWindow, error) {
	var w PitchWindow
	err := c.do(ctx, http.MethodPost, "pitch-windows", opts, &w)
	return w, err
}

// ListPitchWindows returns pitch windows visible to the caller.
func (c *Client) ListPitchWindows(ctx context.Context, status string) ([]PitchWindow, error) {
	endpoint := "pitch-windows"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []PitchWindow `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SetPitchWindowStatus opens, closes or cancels a window.
func (c *Client) SetPitchWindowStatus(ctx context.Context, id, status string) (PitchWindow, error) {
	var w PitchWindow
	err := c.do(ctx, http.MethodPost, "pitch-windows/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &w)
	return w, err
}

// CreatePitchOptions describe a story proposal.
type CreatePitchOptions struct {
	WindowID     string `json:"window_id"`
	Headline     string `json:"headline"`
	Summary      string `json:"summary,omitempty"`
	ProposedRate int64  `json:"proposed_rate,omitempty"`
	Submit       bool   `json:"submit,omitempty"`
}

// CreatePitch drafts a pitch, optionally submitting it immediately.
func (c *Client) CreatePitch(ctx context.Context, opts CreatePitchOptions) (Pitch, error) {
	var p Pitch
	err := c.do(ctx, http.MethodPost, "pitches", opts, &p)
	return p, err
}

// ListPitches returns pitches visible to the caller.
func (c *Client) ListPitches(ctx context.Context, windowID, status string) ([]Pitch, error) {
	q := url.Values{}
	if windowID != "" {
		q.Set("window_id", windowID)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "pitches"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Pitch `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SetPitchStatus moves a pitch through review.
func (c *Client) SetPitchStatus(ctx context.Context, id, status string) (Pitch, error) {
	var p Pitch
	err := c.do(ctx, http.MethodPost, "pitches/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &p)
	return p, err
}

// AcceptPitchOptions override commission terms when accepting a pitch.
type AcceptPitchOptions struct {
	AgreedRate        *int64  `json:"agreed_rate,omitempty"`
	KillFeePercentage int     `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
	Deadline          *string `json:"deadline,omitempty"`
}

// AcceptPitch accepts a pitch and returns the commissioned assignment.
func (c *Client) AcceptPitch(ctx context.Context, pitchID string, opts AcceptPitchOptions) (Assignment, error) {
	var a Assignment
	err := c.do(ctx, http.MethodPost, "pitches/"+url.PathEscape(pitchID)+"/accept", opts, &a)
	return a, err
}

// CreateWebhook subscribes an endpoint to timeline events. Admin only.
func (c *Client) CreateWebhook(ctx context.Context, endpointURL, secret string) (Webhook, error) {
	body := map[string]any{"url": endpointURL}
	if secret != "" {
		body["secret"] = secret
	}
	var w Webhook
	err := c.do(ctx, http.MethodPost, "webhooks", body, &w)
	return w, err
}

// ListWebhooks returns all webhook subscriptions. Admin only.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp struct {
		Items []Webhook `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "webhooks", nil, &resp)
	return resp.Items, err
}

// DeleteWebhook removes a webhook subscription. Admin only.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "webhooks/"+url.PathEscape(id), nil, nil)
}

// do runs a request under the current session, refreshing the token
// pair once if the server answers 401.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	token, dev := c.accessToken()
	err := c.doOnce(ctx, method, endpoint, body, out, token)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return err
	}
	if dev || token == "" {
		return err
	}
	newToken, refreshErr := c.refreshSession(ctx, token)
	if refreshErr != nil {
		return refreshErr
	}
	retryErr := c.doOnce(ctx, method, endpoint, body, out, newToken)
	if errors.As(retryErr, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.expire()
		return ErrSessionExpired
	}
	return retryErr
}

// refreshSession coalesces concurrent refresh attempts so a burst of
// 401s produces exactly one call to the refresh endpoint.
func (c *Client) refreshSession(ctx context.Context, staleToken string) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		if s == nil {
			return "", ErrSessionExpired
		}
		// Another caller already refreshed while we waited for the lock.
		if s.AccessToken != staleToken && s.AccessToken != "" {
			return s.AccessToken, nil
		}
		var payload tokenPayload
		body := map[string]any{"refresh_token": s.RefreshToken}
		if err := c.doOnce(ctx, http.MethodPost, "auth/refresh", body, &payload, ""); err != nil {
			c.expire()
			return "", ErrSessionExpired
		}
		exp, _ := time.Parse(time.RFC3339, payload.ExpiresAt)
		c.mu.Lock()
		c.session = &Session{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
			ExpiresAt:    exp,
			User:         payload.User,
		}
		c.mu.Unlock()
		return payload.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// expire clears the session and fires OnUnauthorized once.
func (c *Client) expire() {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()
	if had && c.OnUnauthorized != nil {
		c.OnUnauthorized()
	}
}

func (c *Client) accessToken() (token string, dev bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", false
	}
	if c.session.Dev || c.session.AccessToken == DevToken {
		return "", true
	}
	return c.session.AccessToken, false
}

// httpClient lazily builds the transport under the session mutex so
// concurrent first calls do not race on the field.
func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body any, out any, token string) error {
	reqURL := c.base() + "/" + strings.TrimLeft(c.apiPath(endpoint), "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.NewsroomID != "" {
		req.Header.Set("X-Newsroom-ID", c.NewsroomID)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRequestTimedOut, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", ErrRequestTimedOut, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusUnauthorized && apiErr.Code == "invalid_credentials" {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
	}
	return apiErr
}

func (c *Client) apiPath(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
