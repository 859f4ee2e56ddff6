package server

import (
	"time"

	"stringer/internal/domain"
	"stringer/internal/engine/auth"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Name       string  `json:"name"`
	Role       string  `json:"role" enum:"editor,journalist,admin"`
	NewsroomID *string `json:"newsroom_id,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type CreateAssignmentRequest struct {
	JournalistID      string  `json:"journalist_id"`
	Title             string  `json:"title"`
	Brief             *string `json:"brief,omitempty"`
	AgreedRate        int64   `json:"agreed_rate"`
	KillFeePercentage int     `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
	Deadline          *string `json:"deadline,omitempty" format:"date-time"`
}

type PatchAssignmentRequest struct {
	Title             *string `json:"title,omitempty"`
	Brief             *string `json:"brief,omitempty"`
	Deadline          *string `json:"deadline,omitempty" format:"date-time"`
	AgreedRate        *int64  `json:"agreed_rate,omitempty"`
	KillFeePercentage *int    `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
}

type ChangeStatusRequest struct {
	Status        string  `json:"status" enum:"in_progress,submitted,revision_requested,approved,published,killed"`
	RevisionNotes *string `json:"revision_notes,omitempty"`
}

type CreatePitchWindowRequest struct {
	Title                   string   `json:"title"`
	Beats                   []string `json:"beats,omitempty"`
	BudgetCents             int64    `json:"budget_cents,omitempty"`
	MaxPitchesPerJournalist *int     `json:"max_pitches_per_journalist,omitempty"`
	OpensAt                 *string  `json:"opens_at,omitempty" format:"date-time"`
	ClosesAt                *string  `json:"closes_at,omitempty" format:"date-time"`
}

type WindowStatusRequest struct {
	Status string `json:"status" enum:"open,closed,cancelled"`
}

type CreatePitchRequest struct {
	WindowID     string  `json:"window_id"`
	Headline     string  `json:"headline"`
	Summary      *string `json:"summary,omitempty"`
	ProposedRate int64   `json:"proposed_rate,omitempty"`
	Submit       bool    `json:"submit,omitempty"`
}

type PitchStatusRequest struct {
	Status string `json:"status" enum:"submitted,under_review,accepted,rejected,withdrawn"`
}

type AcceptPitchRequest struct {
	AgreedRate        *int64  `json:"agreed_rate,omitempty"`
	KillFeePercentage int     `json:"kill_fee_percentage,omitempty"`
	MaxRevisions      *int    `json:"max_revisions,omitempty"`
	Deadline          *string `json:"deadline,omitempty" format:"date-time"`
}

type PaymentStatusRequest struct {
	Status string `json:"status" enum:"escrow_held,release_triggered,processing,completed,failed,refunded"`
}

type CreateWebhookRequest struct {
	URL    string  `json:"url" format:"uri"`
	Secret *string `json:"secret,omitempty"`
}

// Responses

type UserResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	NewsroomID *string `json:"newsroom_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresAt    string       `json:"expires_at" format:"date-time"`
	User         UserResponse `json:"user"`
}

type AssignmentListResponse struct {
	Items      []domain.Assignment `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type TimelineResponse struct {
	Items []domain.TimelineEvent `json:"items"`
}

type PaymentListResponse struct {
	Items []domain.Payment `json:"items"`
}

type PitchWindowListResponse struct {
	Items []domain.PitchWindow `json:"items"`
}

type PitchListResponse struct {
	Items []domain.Pitch `json:"items"`
}

type WebhookResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type WebhookListResponse struct {
	Items []WebhookResponse `json:"items"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		NewsroomID: u.NewsroomID,
		CreatedAt:  u.CreatedAt,
	}
}

func tokenResponse(u domain.User, pair auth.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    pair.ExpiresAt.UTC().Format(time.RFC3339),
		User:         userResponse(u),
	}
}

func webhookResponse(s domain.WebhookSubscription) WebhookResponse {
	return WebhookResponse{ID: s.ID, URL: s.URL, Active: s.Active, CreatedAt: s.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
