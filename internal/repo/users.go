package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"stringer/internal/domain"
)

// HashSecret returns a stable SHA-256 hex digest for passwords and
// refresh tokens. Raw values are never stored.
func HashSecret(v string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(v)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.Email == "" {
		return errors.New("email required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,role,newsroom_id,password_hash,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.Role, nullableStringPtr(u.NewsroomID), u.PasswordHash, u.CreatedAt)
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var newsroomID sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &newsroomID, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if newsroomID.Valid {
		u.NewsroomID = &newsroomID.String
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,name,role,newsroom_id,password_hash,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,name,role,newsroom_id,password_hash,created_at FROM users WHERE email=?`, strings.ToLower(email)))
}

func (r Repo) InsertRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	if t.TokenHash == "" {
		return errors.New("token_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO refresh_tokens(id,user_id,token_hash,expires_at,revoked_at,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, nullableStringPtr(t.RevokedAt), t.CreatedAt)
	return err
}

// GetRefreshTokenByHash returns a stored refresh token by its hashed value.
func (r Repo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,token_hash,expires_at,revoked_at,created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1`, hash)
	var t domain.RefreshToken
	var revokedAt sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &revokedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.String
	}
	return t, nil
}

// RevokeRefreshToken marks a token revoked. Rotation revokes the old
// token before minting the replacement.
func (r Repo) RevokeRefreshToken(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live token for a user (logout everywhere).
func (r Repo) RevokeUserRefreshTokens(ctx context.Context, userID, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL`, now, userID)
	return err
}
