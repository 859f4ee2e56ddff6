package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stringer/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

const assignmentColumns = `id,newsroom_id,pitch_id,editor_id,journalist_id,title,brief,status,agreed_rate,kill_fee_percentage,max_revisions,revision_count,revision_notes,deadline,started_at,submitted_at,completed_at,published_at,created_at,updated_at`

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(`+assignmentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.NewsroomID, nullableStringPtr(a.PitchID), a.EditorID, a.JournalistID, a.Title, a.Brief,
		a.Status, a.AgreedRate, a.KillFeePercentage, a.MaxRevisions, a.RevisionCount, nullableStringPtr(a.RevisionNotes),
		nullableStringPtr(a.Deadline), nullableStringPtr(a.StartedAt), nullableStringPtr(a.SubmittedAt),
		nullableStringPtr(a.CompletedAt), nullableStringPtr(a.PublishedAt), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `UPDATE assignments SET title=?, brief=?, status=?, agreed_rate=?, kill_fee_percentage=?, max_revisions=?, revision_count=?, revision_notes=?, deadline=?, started_at=?, submitted_at=?, completed_at=?, published_at=?, updated_at=? WHERE id=?`,
		a.Title, a.Brief, a.Status, a.AgreedRate, a.KillFeePercentage, a.MaxRevisions, a.RevisionCount,
		nullableStringPtr(a.RevisionNotes), nullableStringPtr(a.Deadline), nullableStringPtr(a.StartedAt),
		nullableStringPtr(a.SubmittedAt), nullableStringPtr(a.CompletedAt), nullableStringPtr(a.PublishedAt),
		a.UpdatedAt, a.ID)
	return err
}

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var pitchID, brief, revisionNotes, deadline, startedAt, submittedAt, completedAt, publishedAt sql.NullString
	err := scan(&a.ID, &a.NewsroomID, &pitchID, &a.EditorID, &a.JournalistID, &a.Title, &brief, &a.Status,
		&a.AgreedRate, &a.KillFeePercentage, &a.MaxRevisions, &a.RevisionCount, &revisionNotes, &deadline,
		&startedAt, &submittedAt, &completedAt, &publishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if pitchID.Valid {
		a.PitchID = &pitchID.String
	}
	if brief.Valid {
		a.Brief = brief.String
	}
	if revisionNotes.Valid {
		a.RevisionNotes = &revisionNotes.String
	}
	if deadline.Valid {
		a.Deadline = &deadline.String
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.String
	}
	if submittedAt.Valid {
		a.SubmittedAt = &submittedAt.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	if publishedAt.Valid {
		a.PublishedAt = &publishedAt.String
	}
	return a, nil
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

type AssignmentFilters struct {
	NewsroomID      string
	JournalistID    string
	EditorID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilters) ([]domain.Assignment, error) {
	var clauses []string
	var args []any
	if f.NewsroomID != "" {
		clauses = append(clauses, "newsroom_id=?")
		args = append(args, f.NewsroomID)
	}
	if f.JournalistID != "" {
		clauses = append(clauses, "journalist_id=?")
		args = append(args, f.JournalistID)
	}
	if f.EditorID != "" {
		clauses = append(clauses, "editor_id=?")
		args = append(args, f.EditorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + assignmentColumns + ` FROM assignments ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListTimeline returns an assignment's events oldest first.
func (r Repo) ListTimeline(ctx context.Context, assignmentID string) ([]domain.TimelineEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assignment_id,status,label,COALESCE(description,''),actor_id,ts FROM timeline_events WHERE assignment_id=? ORDER BY id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.ID, &e.AssignmentID, &e.Status, &e.Label, &e.Description, &e.ActorID, &e.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TimelineEventsSince reads events past a cursor for webhook delivery.
func (r Repo) TimelineEventsSince(ctx context.Context, afterID int64, limit int) ([]domain.TimelineEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assignment_id,status,label,COALESCE(description,''),actor_id,ts FROM timeline_events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.ID, &e.AssignmentID, &e.Status, &e.Label, &e.Description, &e.ActorID, &e.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountTimelineEvents(ctx context.Context, assignmentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline_events WHERE assignment_id=?`, assignmentID).Scan(&n)
	return n, err
}

// InsertNewsroom exists for seeding and registration.
func (r Repo) InsertNewsroom(ctx context.Context, n domain.Newsroom) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO newsrooms(id,name,slug,created_at) VALUES (?,?,?,?)`,
		n.ID, n.Name, n.Slug, n.CreatedAt)
	return err
}

func (r Repo) GetNewsroom(ctx context.Context, id string) (domain.Newsroom, error) {
	var n domain.Newsroom
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,slug,created_at FROM newsrooms WHERE id=?`, id).
		Scan(&n.ID, &n.Name, &n.Slug, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) EnsureNewsroom(ctx context.Context, id, name, now string) error {
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	_, err := r.DB.ExecContext(ctx, `INSERT INTO newsrooms(id,name,slug,created_at) VALUES (?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, name, slug, now)
	if err != nil {
		return fmt.Errorf("ensure newsroom: %w", err)
	}
	return nil
}
