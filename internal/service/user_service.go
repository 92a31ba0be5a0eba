package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/validation"
)

// UserService manages profiles and roles.
type UserService struct {
	userRepo repository.UserRepository
}

// UpdateProfileInput holds optional profile fields; nil means unchanged.
type UpdateProfileInput struct {
	Name         *string
	Phone        *string
	Bio          *string
	Avatar       *string
	BusinessName *string
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// GetPublicProfile returns the cached public projection of a user.
func (s *UserService) GetPublicProfile(ctx context.Context, id uint) (*models.UserSummary, error) {
	return s.userRepo.GetSummary(ctx, id)
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.userRepo.List(ctx, limit, offset)
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in UpdateProfileInput) (*models.User, error) {
	const maxBioLen = 500

	fields := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validation.ValidateName(name); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		fields["name"] = name
	}
	if in.Bio != nil {
		if utf8.RuneCountInString(*in.Bio) > maxBioLen {
			return nil, models.NewValidationError("Bio too long (max 500 characters)")
		}
		fields["bio"] = *in.Bio
	}
	if in.Phone != nil {
		fields["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.Avatar != nil {
		fields["avatar"] = strings.TrimSpace(*in.Avatar)
	}
	if in.BusinessName != nil {
		fields["business_name"] = strings.TrimSpace(*in.BusinessName)
	}
	return s.userRepo.UpdateProfile(ctx, userID, fields)
}

// SetRole changes a user's role. Admins cannot demote themselves.
func (s *UserService) SetRole(ctx context.Context, actorID, targetID uint, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, models.NewValidationError("Invalid role")
	}
	if actorID == targetID && role != models.RoleAdmin {
		return nil, models.NewValidationError("You cannot remove your own admin role")
	}
	if err := s.userRepo.UpdateRole(ctx, targetID, role); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, targetID)
}
