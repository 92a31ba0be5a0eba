package service

import (
	"context"
	"fmt"
	"strconv"

	"sokoni/internal/featureflags"
	"sokoni/internal/models"
	"sokoni/internal/observability"
	"sokoni/internal/repository"
)

// FollowService manages the follow graph.
type FollowService struct {
	follows       repository.FollowRepository
	users         repository.UserRepository
	notifications Notifications
	flags         *featureflags.Manager
	dispatch      func(ctx context.Context, what string, fn func(context.Context) error)
}

// NewFollowService returns a FollowService. notifications and flags may be nil.
func NewFollowService(follows repository.FollowRepository, users repository.UserRepository, notifications Notifications, flags *featureflags.Manager) *FollowService {
	return &FollowService{
		follows:       follows,
		users:         users,
		notifications: notifications,
		flags:         flags,
		dispatch:      sendAsync,
	}
}

// Follow makes followerID follow targetID and returns the follower's
// following count. Following someone twice is a no-op.
func (s *FollowService) Follow(ctx context.Context, followerID, targetID uint) (int, error) {
	if followerID == targetID {
		return 0, models.NewValidationError("You cannot follow yourself")
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return 0, err
	}

	count, created, err := s.follows.Follow(ctx, followerID, targetID)
	if err != nil {
		return 0, err
	}
	if !created {
		return count, nil
	}
	observability.FollowChanges.WithLabelValues("follow").Inc()

	if s.notifications != nil && s.followNotificationsOn(targetID) {
		s.dispatch(ctx, "follow", func(ctx context.Context) error {
			return s.notifyFollow(ctx, followerID, targetID)
		})
	}
	return count, nil
}

// followNotificationsOn treats an unset flag as enabled.
func (s *FollowService) followNotificationsOn(targetID uint) bool {
	if _, set := s.flags.Raw()[featureflags.FollowNotifications]; !set {
		return true
	}
	return s.flags.Enabled(featureflags.FollowNotifications, targetID)
}

func (s *FollowService) notifyFollow(ctx context.Context, followerID, targetID uint) error {
	follower, err := s.users.GetSummary(ctx, followerID)
	if err != nil {
		return err
	}
	return s.notifications.Notify(ctx, &models.Notification{
		RecipientID: targetID,
		Type:        models.NotificationSocial,
		Title:       "New follower",
		Message:     fmt.Sprintf("%s started following you", follower.Name),
		Data:        models.JSONMap{"followerId": followerID},
		Link:        "/users/" + strconv.FormatUint(uint64(followerID), 10),
	})
}

// Unfollow removes the edge if present and returns the follower's following
// count.
func (s *FollowService) Unfollow(ctx context.Context, followerID, targetID uint) (int, error) {
	if followerID == targetID {
		return 0, models.NewValidationError("You cannot unfollow yourself")
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return 0, err
	}
	count, removed, err := s.follows.Unfollow(ctx, followerID, targetID)
	if err != nil {
		return 0, err
	}
	if removed {
		observability.FollowChanges.WithLabelValues("unfollow").Inc()
	}
	return count, nil
}

// IsFollowing reports whether followerID follows targetID.
func (s *FollowService) IsFollowing(ctx context.Context, followerID, targetID uint) (bool, error) {
	return s.follows.IsFollowing(ctx, followerID, targetID)
}

// ListFollowers returns who follows userID, most recent first.
func (s *FollowService) ListFollowers(ctx context.Context, userID uint) ([]models.UserSummary, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.follows.ListFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.Summaries(users), nil
}

// ListFollowing returns who userID follows, most recent first.
func (s *FollowService) ListFollowing(ctx context.Context, userID uint) ([]models.UserSummary, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.follows.ListFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.Summaries(users), nil
}
