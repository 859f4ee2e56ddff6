package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stringer/internal/domain"
	"stringer/internal/engine"
	"stringer/internal/repo"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ForbiddenError indicates the authenticated user may not act on the resource.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Service issues and verifies token pairs backed by SQL refresh-token state.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Secret []byte
	Now    func() time.Time
}

func NewService(db *sql.DB, secret string) Service {
	return Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Secret: []byte(secret),
		Now:    time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// TokenPair is what login, register, and refresh hand back.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Claims carried by both token types; TokenType distinguishes them so an
// access token can never pass as a refresh token or vice versa.
type Claims struct {
	Role       string `json:"role"`
	NewsroomID string `json:"newsroom_id,omitempty"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

func (s Service) Login(ctx context.Context, email, password string) (domain.User, TokenPair, error) {
	u, err := s.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, TokenPair{}, engine.ErrInvalidCredentials
		}
		return domain.User{}, TokenPair{}, err
	}
	if u.PasswordHash != repo.HashSecret(password) {
		return domain.User{}, TokenPair{}, engine.ErrInvalidCredentials
	}
	pair, err := s.issuePair(ctx, u)
	return u, pair, err
}

type RegisterOptions struct {
	Email      string
	Password   string
	Name       string
	Role       string
	NewsroomID string
}

func (s Service) Register(ctx context.Context, opts RegisterOptions) (domain.User, TokenPair, error) {
	email := strings.TrimSpace(strings.ToLower(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, TokenPair{}, &engine.InvalidInputError{Field: "email", Reason: "valid address required"}
	}
	if len(opts.Password) < 8 {
		return domain.User{}, TokenPair{}, &engine.InvalidInputError{Field: "password", Reason: "must be at least 8 characters"}
	}
	switch opts.Role {
	case "editor", "journalist", "admin":
	default:
		return domain.User{}, TokenPair{}, &engine.InvalidInputError{Field: "role", Reason: "must be editor, journalist or admin"}
	}
	if opts.Role == "editor" && opts.NewsroomID == "" {
		return domain.User{}, TokenPair{}, &engine.InvalidInputError{Field: "newsroom_id", Reason: "required for editors"}
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         opts.Name,
		Role:         opts.Role,
		PasswordHash: repo.HashSecret(opts.Password),
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}
	if opts.NewsroomID != "" {
		u.NewsroomID = &opts.NewsroomID
	}
	if err := s.Repo.InsertUser(ctx, u); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.User{}, TokenPair{}, &engine.InvalidInputError{Field: "email", Reason: "already registered"}
		}
		return domain.User{}, TokenPair{}, err
	}
	pair, err := s.issuePair(ctx, u)
	return u, pair, err
}

// Refresh rotates a token pair. The presented token must verify, carry the
// refresh token_type, and match a live server-side record; the record is
// revoked before the replacement is minted.
func (s Service) Refresh(ctx context.Context, refreshToken string) (domain.User, TokenPair, error) {
	claims, err := s.VerifyToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return domain.User{}, TokenPair{}, engine.ErrSessionExpired
	}
	stored, err := s.Repo.GetRefreshTokenByHash(ctx, repo.HashSecret(refreshToken))
	if err != nil {
		return domain.User{}, TokenPair{}, engine.ErrSessionExpired
	}
	if stored.RevokedAt != nil {
		return domain.User{}, TokenPair{}, engine.ErrSessionExpired
	}
	expires, err := time.Parse(time.RFC3339, stored.ExpiresAt)
	if err != nil || !s.now().Before(expires) {
		return domain.User{}, TokenPair{}, engine.ErrSessionExpired
	}
	u, err := s.Repo.GetUser(ctx, claims.Subject)
	if err != nil {
		return domain.User{}, TokenPair{}, engine.ErrSessionExpired
	}
	now := s.now().UTC().Format(time.RFC3339)
	if err := s.Repo.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		return domain.User{}, TokenPair{}, err
	}
	pair, err := s.issuePair(ctx, u)
	return u, pair, err
}

// DevPair mints a token pair without a credential check. Only the dev
// login endpoint uses it, and only when dev login is enabled in config.
func (s Service) DevPair(ctx context.Context, u domain.User) (TokenPair, error) {
	return s.issuePair(ctx, u)
}

// Logout revokes every live refresh token for the user.
func (s Service) Logout(ctx context.Context, userID string) error {
	now := s.now().UTC().Format(time.RFC3339)
	return s.Repo.RevokeUserRefreshTokens(ctx, userID, now)
}

func (s Service) issuePair(ctx context.Context, u domain.User) (TokenPair, error) {
	now := s.now()
	accessExp := now.Add(AccessTokenTTL)
	access, err := s.mintToken(u, TokenTypeAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := now.Add(RefreshTokenTTL)
	refresh, err := s.mintToken(u, TokenTypeRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	rec := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: repo.HashSecret(refresh),
		ExpiresAt: refreshExp.UTC().Format(time.RFC3339),
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertRefreshToken(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

func (s Service) mintToken(u domain.User, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Role:      u.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        newJTI(),
		},
	}
	if u.NewsroomID != nil {
		claims.NewsroomID = *u.NewsroomID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// VerifyToken parses and validates a token, requiring the given token_type.
func (s Service) VerifyToken(raw, wantType string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	var claims Claims
	token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("token_type %q where %q required", claims.TokenType, wantType)
	}
	return &claims, nil
}

// newJTI gives refresh tokens distinct signatures even when minted within
// the same second under a pinned clock.
func newJTI() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
