package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stringer/internal/domain"
)

func (r Repo) InsertWebhookSubscription(ctx context.Context, s domain.WebhookSubscription) error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("url required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_subscriptions(id,url,secret,active,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.URL, s.Secret, boolToInt(s.Active), s.CreatedAt)
	return err
}

func (r Repo) ListWebhookSubscriptions(ctx context.Context, activeOnly bool) ([]domain.WebhookSubscription, error) {
	query := `SELECT id,url,secret,active,created_at FROM webhook_subscriptions`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WebhookSubscription
	for rows.Next() {
		var s domain.WebhookSubscription
		var active int
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &active, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Active = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteWebhookSubscription(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) WebhookCursor(ctx context.Context, subscriptionID string) (int64, error) {
	var cur int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE subscription_id=?`, subscriptionID).Scan(&cur)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cur, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, subscriptionID string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(subscription_id,last_event_id) VALUES (?,?)
ON CONFLICT(subscription_id) DO UPDATE SET last_event_id=excluded.last_event_id`, subscriptionID, eventID)
	return err
}

// LatestTimelineEventID is the dispatch starting point for new subscriptions.
func (r Repo) LatestTimelineEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM timeline_events`).Scan(&id)
	return id, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
