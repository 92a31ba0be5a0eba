package repository

import (
	"context"
	"errors"
	"time"

	"sokoni/internal/models"
	"sokoni/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoryRepository persists stories and their view/like ledgers.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uint) (*models.Story, error)
	// ListLiveByAuthors returns live stories newest first with author and
	// product loaded. Views holds only viewerID's own view rows.
	ListLiveByAuthors(ctx context.Context, authorIDs []uint, viewerID uint, now time.Time) ([]models.Story, error)
	ListLiveByAuthor(ctx context.Context, authorID uint, now time.Time) ([]models.Story, error)
	Deactivate(ctx context.Context, id uint) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	// RecordView returns the view count and whether this call added a view.
	RecordView(ctx context.Context, storyID, userID uint, now time.Time) (int, bool, error)
	// ToggleLike returns the like count and whether userID now likes the story.
	ToggleLike(ctx context.Context, storyID, userID uint, now time.Time) (int, bool, error)
	ListViews(ctx context.Context, storyID uint) ([]models.StoryView, error)
	LikedStoryIDs(ctx context.Context, userID uint, storyIDs []uint) (map[uint]bool, error)
}

type storyRepository struct {
	db *gorm.DB
}

// NewStoryRepository creates a new story repository
func NewStoryRepository(db *gorm.DB) StoryRepository {
	return &storyRepository{db: db}
}

func (r *storyRepository) Create(ctx context.Context, story *models.Story) error {
	defer observability.TrackQuery("insert", "stories")()
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(story).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *storyRepository) GetByID(ctx context.Context, id uint) (*models.Story, error) {
	var story models.Story
	if err := r.db.WithContext(ctx).
		Preload("User", publicUser).
		Preload("Product").
		First(&story, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Story", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &story, nil
}

func (r *storyRepository) live(ctx context.Context, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("stories.is_active = ? AND stories.expires_at > ?", true, now).
		Order("stories.created_at DESC, stories.id DESC")
}

func (r *storyRepository) ListLiveByAuthors(ctx context.Context, authorIDs []uint, viewerID uint, now time.Time) ([]models.Story, error) {
	if len(authorIDs) == 0 {
		return []models.Story{}, nil
	}
	defer observability.TrackQuery("select", "stories")()

	var stories []models.Story
	if err := r.live(ctx, now).
		Where("stories.user_id IN ?", authorIDs).
		Preload("User", publicUser).
		Preload("Product").
		Preload("Views", "user_id = ?", viewerID).
		Find(&stories).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return stories, nil
}

func (r *storyRepository) ListLiveByAuthor(ctx context.Context, authorID uint, now time.Time) ([]models.Story, error) {
	var stories []models.Story
	if err := r.live(ctx, now).
		Where("stories.user_id = ?", authorID).
		Preload("User", publicUser).
		Preload("Product").
		Find(&stories).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return stories, nil
}

func (r *storyRepository) Deactivate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Story{}).Where("id = ?", id).UpdateColumn("is_active", false)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Story", id)
	}
	return nil
}

// SweepExpired deactivates every active story whose expiry is before now.
func (r *storyRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	defer observability.TrackQuery("update", "stories")()
	res := r.db.WithContext(ctx).
		Model(&models.Story{}).
		Where("is_active = ? AND expires_at < ?", true, now).
		UpdateColumn("is_active", false)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

// lockLive loads and locks the story row and fails unless it is live.
func lockLive(tx *gorm.DB, storyID uint, now time.Time) error {
	var story models.Story
	if err := forUpdate(tx).
		Select("id", "is_active", "expires_at").
		First(&story, storyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Story", storyID)
		}
		return models.NewInternalError(err)
	}
	if !story.IsLive(now) {
		return models.NewGoneError("Story", storyID)
	}
	return nil
}

func (r *storyRepository) RecordView(ctx context.Context, storyID, userID uint, now time.Time) (int, bool, error) {
	var (
		count int
		added bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLive(tx, storyID, now); err != nil {
			return err
		}

		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.StoryView{StoryID: storyID, UserID: userID, ViewedAt: now})
		if res.Error != nil {
			return models.NewInternalError(res.Error)
		}
		added = res.RowsAffected == 1

		n, err := recount(tx, &models.StoryView{}, storyID, "view_count")
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, added, nil
}

func (r *storyRepository) ToggleLike(ctx context.Context, storyID, userID uint, now time.Time) (int, bool, error) {
	var (
		count int
		liked bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLive(tx, storyID, now); err != nil {
			return err
		}

		res := tx.Where("story_id = ? AND user_id = ?", storyID, userID).Delete(&models.StoryLike{})
		if res.Error != nil {
			return models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&models.StoryLike{StoryID: storyID, UserID: userID, CreatedAt: now}).Error; err != nil {
				return models.NewInternalError(err)
			}
			liked = true
		}

		n, err := recount(tx, &models.StoryLike{}, storyID, "like_count")
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, liked, nil
}

// recount re-derives a story counter from its membership table.
func recount(tx *gorm.DB, model interface{}, storyID uint, column string) (int, error) {
	var n int64
	if err := tx.Model(model).Where("story_id = ?", storyID).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	if err := tx.Model(&models.Story{}).Where("id = ?", storyID).UpdateColumn(column, n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return int(n), nil
}

func (r *storyRepository) ListViews(ctx context.Context, storyID uint) ([]models.StoryView, error) {
	var views []models.StoryView
	if err := r.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Preload("User", publicUser).
		Order("viewed_at ASC, id ASC").
		Find(&views).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return views, nil
}

func (r *storyRepository) LikedStoryIDs(ctx context.Context, userID uint, storyIDs []uint) (map[uint]bool, error) {
	liked := make(map[uint]bool)
	if len(storyIDs) == 0 {
		return liked, nil
	}
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.StoryLike{}).
		Where("user_id = ? AND story_id IN ?", userID, storyIDs).
		Pluck("story_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, id := range ids {
		liked[id] = true
	}
	return liked, nil
}
