package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"stringer/internal/domain"
)

const pitchWindowColumns = `id,newsroom_id,title,beats_json,budget_cents,max_pitches_per_journalist,opens_at,closes_at,status,created_at,updated_at`

func (r Repo) InsertPitchWindow(ctx context.Context, w domain.PitchWindow) error {
	beats, err := json.Marshal(w.Beats)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO pitch_windows(`+pitchWindowColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.NewsroomID, w.Title, string(beats), w.BudgetCents, w.MaxPitchesPerJournalist,
		nullableStringPtr(w.OpensAt), nullableStringPtr(w.ClosesAt), w.Status, w.CreatedAt, w.UpdatedAt)
	return err
}

func scanPitchWindow(scan func(dest ...any) error) (domain.PitchWindow, error) {
	var w domain.PitchWindow
	var beatsJSON string
	var opensAt, closesAt sql.NullString
	err := scan(&w.ID, &w.NewsroomID, &w.Title, &beatsJSON, &w.BudgetCents, &w.MaxPitchesPerJournalist,
		&opensAt, &closesAt, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if beatsJSON != "" {
		if err := json.Unmarshal([]byte(beatsJSON), &w.Beats); err != nil {
			return w, err
		}
	}
	if opensAt.Valid {
		w.OpensAt = &opensAt.String
	}
	if closesAt.Valid {
		w.ClosesAt = &closesAt.String
	}
	return w, nil
}

func (r Repo) GetPitchWindow(ctx context.Context, id string) (domain.PitchWindow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pitchWindowColumns+` FROM pitch_windows WHERE id=?`, id)
	return scanPitchWindow(row.Scan)
}

func (r Repo) ListPitchWindows(ctx context.Context, newsroomID, status string) ([]domain.PitchWindow, error) {
	var clauses []string
	var args []any
	if newsroomID != "" {
		clauses = append(clauses, "newsroom_id=?")
		args = append(args, newsroomID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pitchWindowColumns+` FROM pitch_windows `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PitchWindow
	for rows.Next() {
		w, err := scanPitchWindow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePitchWindowStatus(ctx context.Context, id, status, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE pitch_windows SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const pitchColumns = `id,window_id,journalist_id,headline,summary,proposed_rate,status,created_at,updated_at`

func (r Repo) InsertPitch(ctx context.Context, p domain.Pitch) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO pitches(`+pitchColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.WindowID, p.JournalistID, p.Headline, p.Summary, p.ProposedRate, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPitch(scan func(dest ...any) error) (domain.Pitch, error) {
	var p domain.Pitch
	var summary sql.NullString
	err := scan(&p.ID, &p.WindowID, &p.JournalistID, &p.Headline, &summary, &p.ProposedRate, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if summary.Valid {
		p.Summary = summary.String
	}
	return p, err
}

func (r Repo) GetPitch(ctx context.Context, id string) (domain.Pitch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pitchColumns+` FROM pitches WHERE id=?`, id)
	return scanPitch(row.Scan)
}

func (r Repo) GetPitchTx(ctx context.Context, tx *sql.Tx, id string) (domain.Pitch, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pitchColumns+` FROM pitches WHERE id=?`, id)
	return scanPitch(row.Scan)
}

func (r Repo) ListPitches(ctx context.Context, windowID, journalistID, status string) ([]domain.Pitch, error) {
	var clauses []string
	var args []any
	if windowID != "" {
		clauses = append(clauses, "window_id=?")
		args = append(args, windowID)
	}
	if journalistID != "" {
		clauses = append(clauses, "journalist_id=?")
		args = append(args, journalistID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pitchColumns+` FROM pitches `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pitch
	for rows.Next() {
		p, err := scanPitch(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePitchStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE pitches SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountJournalistPitches counts non-withdrawn pitches a journalist has in a window.
func (r Repo) CountJournalistPitches(ctx context.Context, windowID, journalistID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pitches WHERE window_id=? AND journalist_id=? AND status != 'withdrawn'`,
		windowID, journalistID).Scan(&n)
	return n, err
}
