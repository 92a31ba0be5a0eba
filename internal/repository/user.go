package repository

import (
	"context"
	"errors"
	"time"

	"sokoni/internal/cache"
	"sokoni/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetSummary(ctx context.Context, id uint) (*models.UserSummary, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) (*models.User, error)
	UpdateRole(ctx context.Context, id uint, role models.Role) error
	SetOTP(ctx context.Context, id uint, otpHash string, expiresAt time.Time) error
	MarkVerified(ctx context.Context, id uint) error
	SetRefreshTokenHash(ctx context.Context, id uint, hash string) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewConflictError("An account with this email already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", email)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// GetSummary returns the public profile, served from Redis when available.
func (r *userRepository) GetSummary(ctx context.Context, id uint) (*models.UserSummary, error) {
	var summary models.UserSummary
	err := cache.Aside(ctx, cache.UserKey(id), &summary, cache.UserTTL, func() error {
		user, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		summary = user.Summary()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	limit, offset = clampPage(limit, offset)
	var users []models.User
	if err := r.db.WithContext(ctx).Order("id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

// UpdateProfile writes only the given columns and returns the fresh row.
func (r *userRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) (*models.User, error) {
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, models.NewNotFoundError("User", id)
		}
		cache.InvalidateUser(ctx, id)
	}
	return r.GetByID(ctx, id)
}

func (r *userRepository) UpdateRole(ctx context.Context, id uint, role models.Role) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, id)
	return nil
}

func (r *userRepository) SetOTP(ctx context.Context, id uint, otpHash string, expiresAt time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"otp_hash":       otpHash,
		"otp_expires_at": expiresAt,
	})
}

func (r *userRepository) MarkVerified(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"is_verified":    true,
		"otp_hash":       "",
		"otp_expires_at": nil,
	})
}

func (r *userRepository) SetRefreshTokenHash(ctx context.Context, id uint, hash string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"refresh_token_hash": hash})
}

func (r *userRepository) updateColumns(ctx context.Context, id uint, cols map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	return nil
}
