package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stringer/internal/config"
	"stringer/internal/domain"
	"stringer/internal/repo"
)

// EnsureSeed makes sure the configured newsroom and, when dev login is
// enabled, the dev user exist. Safe to call on every boot.
func EnsureSeed(ctx context.Context, cfg *config.Config, r repo.Repo) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	newsroomID := cfg.Platform.Newsroom.ID
	if newsroomID == "" {
		newsroomID = "default-newsroom"
	}
	name := cfg.Platform.Newsroom.Name
	if name == "" {
		name = "Default Newsroom"
	}
	if err := r.EnsureNewsroom(ctx, newsroomID, name, now); err != nil {
		return err
	}
	if !cfg.Auth.DevLogin.Enabled {
		return nil
	}
	return ensureDevUser(ctx, r, cfg.Auth.DevLogin, newsroomID, now)
}

func ensureDevUser(ctx context.Context, r repo.Repo, dev config.DevLogin, newsroomID, now string) error {
	_, err := r.GetUserByEmail(ctx, dev.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	role := dev.Role
	if role == "" {
		role = "editor"
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Email:     dev.Email,
		Name:      "Dev User",
		Role:      role,
		CreatedAt: now,
		// Random hash; the dev user only logs in via dev-login.
		PasswordHash: repo.HashSecret(uuid.NewString()),
	}
	if role != "journalist" {
		u.NewsroomID = &newsroomID
	}
	if err := r.InsertUser(ctx, u); err != nil {
		return fmt.Errorf("seed dev user: %w", err)
	}
	return nil
}
