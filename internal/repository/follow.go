package repository

import (
	"context"

	"sokoni/internal/cache"
	"sokoni/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FollowRepository owns the follow edge table and the denormalized counters
// derived from it.
type FollowRepository interface {
	// Follow inserts the edge if absent and returns the follower's following
	// count and whether a new edge was created.
	Follow(ctx context.Context, followerID, followingID uint) (int, bool, error)
	// Unfollow removes the edge if present and returns the follower's
	// following count and whether an edge was removed.
	Unfollow(ctx context.Context, followerID, followingID uint) (int, bool, error)
	IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error)
	FollowingIDs(ctx context.Context, userID uint) ([]uint, error)
	FollowerIDs(ctx context.Context, userID uint) ([]uint, error)
	ListFollowers(ctx context.Context, userID uint) ([]models.User, error)
	ListFollowing(ctx context.Context, userID uint) ([]models.User, error)
}

type followRepository struct {
	db *gorm.DB
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db}
}

func (r *followRepository) Follow(ctx context.Context, followerID, followingID uint) (int, bool, error) {
	return r.mutateEdge(ctx, followerID, followingID, func(tx *gorm.DB) (bool, error) {
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Follow{FollowerID: followerID, FollowingID: followingID})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil
	})
}

func (r *followRepository) Unfollow(ctx context.Context, followerID, followingID uint) (int, bool, error) {
	return r.mutateEdge(ctx, followerID, followingID, func(tx *gorm.DB) (bool, error) {
		res := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).
			Delete(&models.Follow{})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	})
}

// mutateEdge runs change inside one transaction with both user rows locked in
// id order, then recomputes both users' counters from the edge table.
func (r *followRepository) mutateEdge(ctx context.Context, followerID, followingID uint, change func(tx *gorm.DB) (bool, error)) (int, bool, error) {
	var (
		count   int
		changed bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		if err := forUpdate(tx).
			Select("id").
			Where("id IN ?", []uint{followerID, followingID}).
			Order("id ASC").
			Find(&users).Error; err != nil {
			return models.NewInternalError(err)
		}
		found := make(map[uint]bool, len(users))
		for _, u := range users {
			found[u.ID] = true
		}
		if !found[followerID] {
			return models.NewNotFoundError("User", followerID)
		}
		if !found[followingID] {
			return models.NewNotFoundError("User", followingID)
		}

		var err error
		changed, err = change(tx)
		if err != nil {
			return models.NewInternalError(err)
		}
		if changed {
			if err := recountFollows(tx, followerID); err != nil {
				return err
			}
			if err := recountFollows(tx, followingID); err != nil {
				return err
			}
		}

		var follower models.User
		if err := tx.Select("following_count").First(&follower, followerID).Error; err != nil {
			return models.NewInternalError(err)
		}
		count = follower.FollowingCount
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	if changed {
		cache.InvalidateUser(ctx, followerID)
		cache.InvalidateUser(ctx, followingID)
	}
	return count, changed, nil
}

func recountFollows(tx *gorm.DB, userID uint) error {
	var following, followers int64
	if err := tx.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&following).Error; err != nil {
		return models.NewInternalError(err)
	}
	if err := tx.Model(&models.Follow{}).Where("following_id = ?", userID).Count(&followers).Error; err != nil {
		return models.NewInternalError(err)
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).UpdateColumns(map[string]interface{}{
		"following_count": following,
		"followers_count": followers,
	}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *followRepository) IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *followRepository) FollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Pluck("following_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *followRepository) FollowerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("following_id = ?", userID).
		Pluck("follower_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *followRepository) ListFollowers(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Joins("JOIN follows ON follows.follower_id = users.id").
		Where("follows.following_id = ?", userID).
		Order("follows.created_at DESC, follows.id DESC").
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *followRepository) ListFollowing(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Joins("JOIN follows ON follows.following_id = users.id").
		Where("follows.follower_id = ?", userID).
		Order("follows.created_at DESC, follows.id DESC").
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}
