// Package bootstrap connects the process to its backing stores.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"sokoni/internal/cache"
	"sokoni/internal/config"
	"sokoni/internal/database"
	"sokoni/internal/middleware"
	"sokoni/internal/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// InitRuntime connects to the database and Redis. The Redis client is nil
// when Redis is unreachable; callers degrade to uncached, unrevocable,
// locally rate-limited operation.
func InitRuntime(cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := EnsureDevAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}
	return db, r, nil
}

// EnsureDevAdmin creates or promotes a verified admin account in development
// when DEV_BOOTSTRAP_ADMIN is set.
func EnsureDevAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapAdmin {
		return nil
	}

	email := strings.TrimSpace(strings.ToLower(cfg.DevAdminEmail))
	if email == "" {
		email = "admin@sokoni.local"
	}
	if cfg.DevAdminPassword == "" {
		return errors.New("DEV_ADMIN_PASSWORD must be set when DEV_BOOTSTRAP_ADMIN is enabled")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.DevAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var admin models.User
		findErr := tx.Where("email = ?", email).First(&admin).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			admin = models.User{
				Name:       "Sokoni Admin",
				Email:      email,
				Password:   string(hashed),
				Role:       models.RoleAdmin,
				IsVerified: true,
				IsActive:   true,
			}
			return tx.Create(&admin).Error
		case findErr != nil:
			return findErr
		default:
			return tx.Model(&models.User{}).Where("id = ?", admin.ID).Updates(map[string]any{
				"role":        models.RoleAdmin,
				"is_verified": true,
				"is_active":   true,
			}).Error
		}
	})
	if err != nil {
		return err
	}

	middleware.Logger.Info("development admin ensured", slog.String("email", email))
	return nil
}
