package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"stringer/internal/domain"
	"stringer/internal/events"
)

// Pitch window statuses. closed and cancelled are terminal.
const (
	WindowDraft     = "draft"
	WindowOpen      = "open"
	WindowClosed    = "closed"
	WindowCancelled = "cancelled"
)

// Pitch statuses.
const (
	PitchDraft       = "draft"
	PitchSubmitted   = "submitted"
	PitchUnderReview = "under_review"
	PitchAccepted    = "accepted"
	PitchRejected    = "rejected"
	PitchWithdrawn   = "withdrawn"
)

const DefaultMaxPitchesPerJournalist = 3

type PitchWindowCreateOptions struct {
	NewsroomID              string
	Title                   string
	Beats                   []string
	BudgetCents             int64
	MaxPitchesPerJournalist int
	OpensAt                 string
	ClosesAt                string
}

func (e Engine) CreatePitchWindow(ctx context.Context, opts PitchWindowCreateOptions) (domain.PitchWindow, error) {
	if opts.Title == "" {
		return domain.PitchWindow{}, invalidInput("title", "required")
	}
	if opts.NewsroomID == "" {
		return domain.PitchWindow{}, invalidInput("newsroom_id", "required")
	}
	if opts.MaxPitchesPerJournalist <= 0 {
		opts.MaxPitchesPerJournalist = DefaultMaxPitchesPerJournalist
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := domain.PitchWindow{
		ID:                      uuid.NewString(),
		NewsroomID:              opts.NewsroomID,
		Title:                   opts.Title,
		Beats:                   opts.Beats,
		BudgetCents:             opts.BudgetCents,
		MaxPitchesPerJournalist: opts.MaxPitchesPerJournalist,
		OpensAt:                 optionalString(opts.OpensAt),
		ClosesAt:                optionalString(opts.ClosesAt),
		Status:                  WindowDraft,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := e.Repo.InsertPitchWindow(ctx, w); err != nil {
		return domain.PitchWindow{}, err
	}
	return w, nil
}

func (e Engine) SetPitchWindowStatus(ctx context.Context, id, status string) (domain.PitchWindow, error) {
	w, err := e.Repo.GetPitchWindow(ctx, id)
	if err != nil {
		return domain.PitchWindow{}, err
	}
	if err := ensureWindowTransition(w.Status, status); err != nil {
		return w, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePitchWindowStatus(ctx, id, status, now); err != nil {
		return w, err
	}
	w.Status = status
	w.UpdatedAt = now
	return w, nil
}

func ensureWindowTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case WindowDraft:
		if newStatus == WindowOpen || newStatus == WindowCancelled {
			return nil
		}
	case WindowOpen:
		if newStatus == WindowClosed || newStatus == WindowCancelled {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "pitch window", From: oldStatus, To: newStatus}
}

type PitchCreateOptions struct {
	WindowID     string
	JournalistID string
	Headline     string
	Summary      string
	ProposedRate int64
	Submit       bool
}

func (e Engine) CreatePitch(ctx context.Context, opts PitchCreateOptions) (domain.Pitch, error) {
	if strings.TrimSpace(opts.Headline) == "" {
		return domain.Pitch{}, invalidInput("headline", "required")
	}
	if opts.ProposedRate < 0 {
		return domain.Pitch{}, invalidInput("proposed_rate", "must not be negative")
	}
	w, err := e.Repo.GetPitchWindow(ctx, opts.WindowID)
	if err != nil {
		return domain.Pitch{}, err
	}
	status := PitchDraft
	if opts.Submit {
		if err := e.checkSubmittable(ctx, w, opts.JournalistID); err != nil {
			return domain.Pitch{}, err
		}
		status = PitchSubmitted
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Pitch{
		ID:           uuid.NewString(),
		WindowID:     opts.WindowID,
		JournalistID: opts.JournalistID,
		Headline:     opts.Headline,
		Summary:      opts.Summary,
		ProposedRate: opts.ProposedRate,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertPitch(ctx, p); err != nil {
		return domain.Pitch{}, err
	}
	return p, nil
}

func (e Engine) SetPitchStatus(ctx context.Context, id, status string) (domain.Pitch, error) {
	p, err := e.Repo.GetPitch(ctx, id)
	if err != nil {
		return domain.Pitch{}, err
	}
	if err := ensurePitchTransition(p.Status, status); err != nil {
		return p, err
	}
	if status == PitchSubmitted {
		w, err := e.Repo.GetPitchWindow(ctx, p.WindowID)
		if err != nil {
			return p, err
		}
		if err := e.checkSubmittable(ctx, w, p.JournalistID); err != nil {
			return p, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePitchStatus(ctx, nil, id, status, now); err != nil {
		return p, err
	}
	p.Status = status
	p.UpdatedAt = now
	return p, nil
}

func ensurePitchTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case PitchDraft:
		if newStatus == PitchSubmitted || newStatus == PitchWithdrawn {
			return nil
		}
	case PitchSubmitted:
		if newStatus == PitchUnderReview || newStatus == PitchWithdrawn {
			return nil
		}
	case PitchUnderReview:
		if newStatus == PitchAccepted || newStatus == PitchRejected {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "pitch", From: oldStatus, To: newStatus}
}

func (e Engine) checkSubmittable(ctx context.Context, w domain.PitchWindow, journalistID string) error {
	if w.Status != WindowOpen {
		return invalidInput("window_id", "pitch window is not open")
	}
	n, err := e.Repo.CountJournalistPitches(ctx, w.ID, journalistID)
	if err != nil {
		return err
	}
	if n >= w.MaxPitchesPerJournalist {
		return invalidInput("window_id", "pitch limit reached for this window")
	}
	return nil
}

// AcceptPitchOptions commission an assignment from an accepted pitch.
type AcceptPitchOptions struct {
	PitchID           string
	EditorID          string
	AgreedRate        int64 // 0 means use the pitch's proposed rate
	KillFeePercentage int
	MaxRevisions      *int // nil means the default budget
	Deadline          string
	ActorID           string
}

// AcceptPitch marks the pitch accepted and creates the assignment in one
// transaction so a pitch never ends up accepted without its assignment.
func (e Engine) AcceptPitch(ctx context.Context, opts AcceptPitchOptions) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPitchTx(ctx, tx, opts.PitchID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if err := ensurePitchTransition(p.Status, PitchAccepted); err != nil {
		return domain.Assignment{}, err
	}
	w, err := e.Repo.GetPitchWindow(ctx, p.WindowID)
	if err != nil {
		return domain.Assignment{}, err
	}
	rate := opts.AgreedRate
	if rate == 0 {
		rate = p.ProposedRate
	}
	maxRevisions := DefaultMaxRevisions
	if opts.MaxRevisions != nil {
		if *opts.MaxRevisions < 0 {
			return domain.Assignment{}, invalidInput("max_revisions", "must not be negative")
		}
		maxRevisions = *opts.MaxRevisions
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePitchStatus(ctx, tx, p.ID, PitchAccepted, now); err != nil {
		return domain.Assignment{}, err
	}
	a := domain.Assignment{
		ID:                uuid.NewString(),
		NewsroomID:        w.NewsroomID,
		PitchID:           &p.ID,
		EditorID:          opts.EditorID,
		JournalistID:      p.JournalistID,
		Title:             p.Headline,
		Brief:             p.Summary,
		Status:            StatusAssigned,
		AgreedRate:        rate,
		KillFeePercentage: opts.KillFeePercentage,
		MaxRevisions:      maxRevisions,
		Deadline:          optionalString(opts.Deadline),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, err
	}
	if err := e.Events.Append(ctx, tx, a.ID, a.Status, events.LabelCreated, "Commissioned from pitch "+p.ID, opts.ActorID); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}
