package repo

import (
	"context"
	"database/sql"
	"strings"

	"stringer/internal/domain"
)

const paymentColumns = `id,assignment_id,newsroom_id,journalist_id,type,status,amount,platform_fee,net_amount,created_at,updated_at`

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payments(`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AssignmentID, p.NewsroomID, p.JournalistID, p.Type, p.Status, p.Amount, p.PlatformFee, p.NetAmount, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPayment(scan func(dest ...any) error) (domain.Payment, error) {
	var p domain.Payment
	err := scan(&p.ID, &p.AssignmentID, &p.NewsroomID, &p.JournalistID, &p.Type, &p.Status,
		&p.Amount, &p.PlatformFee, &p.NetAmount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
	return scanPayment(row.Scan)
}

type PaymentFilters struct {
	AssignmentID string
	NewsroomID   string
	JournalistID string
	Status       string
}

func (r Repo) ListPayments(ctx context.Context, f PaymentFilters) ([]domain.Payment, error) {
	var clauses []string
	var args []any
	if f.AssignmentID != "" {
		clauses = append(clauses, "assignment_id=?")
		args = append(args, f.AssignmentID)
	}
	if f.NewsroomID != "" {
		clauses = append(clauses, "newsroom_id=?")
		args = append(args, f.NewsroomID)
	}
	if f.JournalistID != "" {
		clauses = append(clauses, "journalist_id=?")
		args = append(args, f.JournalistID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPaymentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
	return scanPayment(row.Scan)
}
