package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stringer/internal/config"
	"stringer/internal/domain"
	"stringer/internal/events"
	"stringer/internal/repo"
)

// Assignment statuses. published and killed are terminal.
const (
	StatusAssigned          = "assigned"
	StatusInProgress        = "in_progress"
	StatusSubmitted         = "submitted"
	StatusRevisionRequested = "revision_requested"
	StatusApproved          = "approved"
	StatusPublished         = "published"
	StatusKilled            = "killed"
)

const (
	DefaultMaxRevisions = 2
	platformFeePercent  = 5
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AssignmentCreateOptions are parameters for commissioning an assignment.
type AssignmentCreateOptions struct {
	ID                string
	NewsroomID        string
	PitchID           string
	EditorID          string
	JournalistID      string
	Title             string
	Brief             string
	AgreedRate        int64
	KillFeePercentage int
	// MaxRevisions nil means the default budget; an explicit zero
	// commissions an assignment with no revisions allowed.
	MaxRevisions *int
	Deadline     string
	ActorID      string
}

func (e Engine) CreateAssignment(ctx context.Context, opts AssignmentCreateOptions) (domain.Assignment, error) {
	if opts.Title == "" {
		return domain.Assignment{}, invalidInput("title", "required")
	}
	if opts.NewsroomID == "" {
		return domain.Assignment{}, invalidInput("newsroom_id", "required")
	}
	if opts.EditorID == "" || opts.JournalistID == "" {
		return domain.Assignment{}, invalidInput("editor_id/journalist_id", "required")
	}
	if opts.AgreedRate < 0 {
		return domain.Assignment{}, invalidInput("agreed_rate", "must not be negative")
	}
	if opts.KillFeePercentage < 0 || opts.KillFeePercentage > 100 {
		return domain.Assignment{}, invalidInput("kill_fee_percentage", "must be between 0 and 100")
	}
	maxRevisions := DefaultMaxRevisions
	if opts.MaxRevisions != nil {
		if *opts.MaxRevisions < 0 {
			return domain.Assignment{}, invalidInput("max_revisions", "must not be negative")
		}
		maxRevisions = *opts.MaxRevisions
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	a := domain.Assignment{
		ID:                id,
		NewsroomID:        opts.NewsroomID,
		PitchID:           optionalString(opts.PitchID),
		EditorID:          opts.EditorID,
		JournalistID:      opts.JournalistID,
		Title:             opts.Title,
		Brief:             opts.Brief,
		Status:            StatusAssigned,
		AgreedRate:        opts.AgreedRate,
		KillFeePercentage: opts.KillFeePercentage,
		MaxRevisions:      maxRevisions,
		Deadline:          optionalString(opts.Deadline),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, a.ID, a.Status, events.LabelCreated, "", opts.ActorID); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// AssignmentPatchOptions are the editable fields. Rate and kill fee are
// locked once work starts; the rest stay editable until a terminal state.
type AssignmentPatchOptions struct {
	ID                string
	Title             *string
	Brief             *string
	Deadline          *string
	AgreedRate        *int64
	KillFeePercentage *int
	MaxRevisions      *int
	ActorID           string
}

func (e Engine) PatchAssignment(ctx context.Context, opts AssignmentPatchOptions) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if isTerminal(a.Status) {
		return a, &InvalidTransitionError{Entity: "assignment", From: a.Status, To: a.Status}
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return a, invalidInput("title", "must not be empty")
		}
		a.Title = *opts.Title
	}
	if opts.Brief != nil {
		a.Brief = *opts.Brief
	}
	if opts.Deadline != nil {
		a.Deadline = optionalString(*opts.Deadline)
	}
	if opts.AgreedRate != nil || opts.KillFeePercentage != nil || opts.MaxRevisions != nil {
		if a.Status != StatusAssigned {
			return a, invalidInput("agreed_rate", "terms locked once work has started")
		}
		if opts.AgreedRate != nil {
			if *opts.AgreedRate < 0 {
				return a, invalidInput("agreed_rate", "must not be negative")
			}
			a.AgreedRate = *opts.AgreedRate
		}
		if opts.KillFeePercentage != nil {
			if *opts.KillFeePercentage < 0 || *opts.KillFeePercentage > 100 {
				return a, invalidInput("kill_fee_percentage", "must be between 0 and 100")
			}
			a.KillFeePercentage = *opts.KillFeePercentage
		}
		if opts.MaxRevisions != nil {
			if *opts.MaxRevisions < a.RevisionCount {
				return a, invalidInput("max_revisions", "below revisions already used")
			}
			a.MaxRevisions = *opts.MaxRevisions
		}
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// StatusChangeOptions drive one lifecycle transition.
type StatusChangeOptions struct {
	ID            string
	NewStatus     string
	RevisionNotes string
	ActorID       string
}

// ChangeAssignmentStatus applies one transition. The status mutation, the
// timeline event, and any payment intent commit in a single transaction.
func (e Engine) ChangeAssignmentStatus(ctx context.Context, opts StatusChangeOptions) (domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssignmentTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if err := ensureAssignmentTransition(a.Status, opts.NewStatus); err != nil {
		return a, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	description := ""
	if opts.NewStatus == StatusRevisionRequested {
		notes := strings.TrimSpace(opts.RevisionNotes)
		if notes == "" {
			return a, invalidInput("revision_notes", "required when requesting a revision")
		}
		if a.RevisionCount >= a.MaxRevisions {
			return a, ErrRevisionBudgetExceeded
		}
		a.RevisionCount++
		a.RevisionNotes = &notes
		description = notes
	}

	a.Status = opts.NewStatus
	switch opts.NewStatus {
	case StatusInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case StatusSubmitted:
		if a.SubmittedAt == nil {
			a.SubmittedAt = &now
		}
	case StatusPublished:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
		if a.PublishedAt == nil {
			a.PublishedAt = &now
		}
	case StatusKilled:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	}
	a.UpdatedAt = now

	if err := e.Repo.UpdateAssignment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, a.ID, a.Status, statusLabel(a.Status), description, opts.ActorID); err != nil {
		return a, err
	}
	switch opts.NewStatus {
	case StatusPublished:
		if err := e.insertPaymentIntent(ctx, tx, a, "assignment", a.AgreedRate, now); err != nil {
			return a, err
		}
	case StatusKilled:
		fee := killFee(a.AgreedRate, a.KillFeePercentage)
		if err := e.insertPaymentIntent(ctx, tx, a, "kill_fee", fee, now); err != nil {
			return a, err
		}
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func ensureAssignmentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case StatusAssigned:
		if newStatus == StatusInProgress || newStatus == StatusKilled {
			return nil
		}
	case StatusInProgress:
		if newStatus == StatusSubmitted || newStatus == StatusKilled {
			return nil
		}
	case StatusSubmitted:
		if newStatus == StatusApproved || newStatus == StatusRevisionRequested || newStatus == StatusKilled {
			return nil
		}
	case StatusRevisionRequested:
		if newStatus == StatusSubmitted || newStatus == StatusKilled {
			return nil
		}
	case StatusApproved:
		if newStatus == StatusPublished || newStatus == StatusKilled {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "assignment", From: oldStatus, To: newStatus}
}

func isTerminal(status string) bool {
	return status == StatusPublished || status == StatusKilled
}

func statusLabel(status string) string {
	switch status {
	case StatusAssigned:
		return events.LabelCreated
	case StatusInProgress:
		return events.LabelWorkStarted
	case StatusSubmitted:
		return events.LabelDraftSubmitted
	case StatusRevisionRequested:
		return events.LabelRevisionRequested
	case StatusApproved:
		return events.LabelApproved
	case StatusPublished:
		return events.LabelPublished
	case StatusKilled:
		return events.LabelKilled
	}
	return status
}

// killFee rounds half up so a 1000-cent rate at 25% yields exactly 250.
func killFee(rate int64, percentage int) int64 {
	return (rate*int64(percentage) + 50) / 100
}

func platformFee(amount int64) int64 {
	return (amount*platformFeePercent + 50) / 100
}

func (e Engine) insertPaymentIntent(ctx context.Context, tx *sql.Tx, a domain.Assignment, payType string, amount int64, now string) error {
	fee := platformFee(amount)
	p := domain.Payment{
		ID:           uuid.NewString(),
		AssignmentID: a.ID,
		NewsroomID:   a.NewsroomID,
		JournalistID: a.JournalistID,
		Type:         payType,
		Status:       "release_triggered",
		Amount:       amount,
		PlatformFee:  fee,
		NetAmount:    amount - fee,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// SetPaymentStatus moves a payment through the payout pipeline.
func (e Engine) SetPaymentStatus(ctx context.Context, id, status string) (domain.Payment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPaymentTx(ctx, tx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := ensurePaymentTransition(p.Status, status); err != nil {
		return p, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePaymentStatus(ctx, tx, id, status, now); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = status
	p.UpdatedAt = now
	return p, nil
}

func ensurePaymentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "pending":
		if newStatus == "escrow_held" || newStatus == "failed" {
			return nil
		}
	case "escrow_held":
		if newStatus == "release_triggered" || newStatus == "refunded" {
			return nil
		}
	case "release_triggered":
		if newStatus == "processing" || newStatus == "failed" {
			return nil
		}
	case "processing":
		if newStatus == "completed" || newStatus == "failed" {
			return nil
		}
	case "failed":
		if newStatus == "release_triggered" {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "payment", From: oldStatus, To: newStatus}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
