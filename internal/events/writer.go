package events

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends timeline events. Append always runs inside the caller's
// transaction so an event lands if and only if the mutation commits.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Labels for the assignment lifecycle, one per status plus creation.
const (
	LabelCreated           = "Assignment Created"
	LabelWorkStarted       = "Work Started"
	LabelDraftSubmitted    = "Draft Submitted"
	LabelRevisionRequested = "Revision Requested"
	LabelApproved          = "Approved"
	LabelPublished         = "Published"
	LabelKilled            = "Killed"
)

func (w Writer) Append(ctx context.Context, tx *sql.Tx, assignmentID, status, label, description, actorID string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO timeline_events(assignment_id,status,label,description,actor_id,ts) VALUES (?,?,?,?,?,?)`,
		assignmentID, status, label, description, actorID, ts)
	return err
}
