package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bloglytics/internal/config"
	"bloglytics/internal/db"
	"bloglytics/internal/models"
	"bloglytics/internal/services"
	"bloglytics/internal/store"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// ensureAdmin creates the account, or promotes and reactivates an existing one.
// An existing password is left alone.
func ensureAdmin(ctx context.Context, users *store.UserStore, email, name, password string) (*models.User, bool, error) {
	if err := services.ValidateEmail(email); err != nil {
		return nil, false, err
	}
	existing, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := users.SetRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return nil, false, err
		}
		if err := users.SetActive(ctx, existing.ID, true); err != nil {
			return nil, false, err
		}
		existing.Role = models.RoleAdmin
		existing.IsActive = true
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	if err := services.ValidatePassword(password); err != nil {
		return nil, false, err
	}
	hash, err := services.HashPassword(password)
	if err != nil {
		return nil, false, err
	}
	u := &models.User{
		Email:          email,
		FullName:       name,
		PasswordHash:   hash,
		Role:           models.RoleAdmin,
		IsActive:       true,
		EmailConfirmed: true,
	}
	if _, err := users.Create(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// bootstrapAdmin 根据 ADMIN_EMAIL / ADMIN_PASSWORD 初始化管理员
func bootstrapAdmin(ctx context.Context, cfg config.Config, g *gorm.DB, logger *slog.Logger) error {
	if cfg.AdminBootstrapEmail == "" || cfg.AdminBootstrapPassword == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	u, created, err := ensureAdmin(ctx, store.NewUserStore(g), cfg.AdminBootstrapEmail, cfg.AdminBootstrapName, cfg.AdminBootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("admin account created", "user_id", u.ID, "email", u.Email)
	}
	return nil
}

func createAdminCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	email := adminFlags[emailFlag].GetString()
	if email == "" {
		email = cfg.AdminBootstrapEmail
	}
	password := adminFlags[passwordFlag].GetString()
	if password == "" {
		password = cfg.AdminBootstrapPassword
	}
	if email == "" {
		return errors.New("--email is required")
	}

	g, err := db.Init(cfg, logger)
	if err != nil {
		return err
	}
	u, created, err := ensureAdmin(cmd.Context(), store.NewUserStore(g), email, adminFlags[nameFlag].GetString(), password)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin account created", "user_id", u.ID, "email", u.Email)
	} else {
		logger.Info("existing account promoted to admin", "user_id", u.ID, "email", u.Email)
	}
	return nil
}
