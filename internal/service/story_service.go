package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"sokoni/internal/config"
	"sokoni/internal/featureflags"
	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/observability"
	"sokoni/internal/repository"
	"sokoni/internal/validation"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Sweep triggers, used as metric labels.
const (
	SweepTriggerInline = "inline"
	SweepTriggerCron   = "cron"
)

const (
	defaultStoryTTL        = 24 * time.Hour
	defaultImageDurationMs = 5000
	defaultVideoDurationMs = 15000
)

// StoryDefaults are the lifetime and display durations applied to new stories.
type StoryDefaults struct {
	TTL             time.Duration
	ImageDurationMs int
	VideoDurationMs int
}

// StoryDefaultsFrom reads story defaults from cfg, filling gaps with the
// built-in values.
func StoryDefaultsFrom(cfg *config.Config) StoryDefaults {
	d := StoryDefaults{TTL: defaultStoryTTL, ImageDurationMs: defaultImageDurationMs, VideoDurationMs: defaultVideoDurationMs}
	if cfg == nil {
		return d
	}
	if cfg.StoryTTL > 0 {
		d.TTL = cfg.StoryTTL
	}
	if cfg.StoryImageDurationMs > 0 {
		d.ImageDurationMs = cfg.StoryImageDurationMs
	}
	if cfg.StoryVideoDurationMs > 0 {
		d.VideoDurationMs = cfg.StoryVideoDurationMs
	}
	return d
}

func (d StoryDefaults) durationFor(kind models.MediaType) int {
	if kind == models.MediaTypeVideo {
		return d.VideoDurationMs
	}
	return d.ImageDurationMs
}

// CreateStoryInput is a validated-on-create story payload. Media has already
// been stored; MediaURL points at it.
type CreateStoryInput struct {
	AuthorID   uint
	MediaType  models.MediaType
	MediaURL   string
	Thumbnail  string
	Caption    string
	DurationMs *int
	ProductID  *uint
	CTA        *models.CTAButton
}

// StoryService implements the story store and the view/like ledger.
type StoryService struct {
	stories       repository.StoryRepository
	products      repository.ProductRepository
	follows       repository.FollowRepository
	notifications Notifications
	flags         *featureflags.Manager
	defaults      StoryDefaults
	now           Clock
	dispatch      func(ctx context.Context, what string, fn func(context.Context) error)
	sweeps        singleflight.Group
}

// NewStoryService returns a StoryService. notifications and flags may be nil.
func NewStoryService(
	stories repository.StoryRepository,
	products repository.ProductRepository,
	follows repository.FollowRepository,
	notifications Notifications,
	flags *featureflags.Manager,
	defaults StoryDefaults,
) *StoryService {
	return &StoryService{
		stories:       stories,
		products:      products,
		follows:       follows,
		notifications: notifications,
		flags:         flags,
		defaults:      defaults,
		now:           utcNow,
		dispatch:      sendAsync,
	}
}

// WithClock replaces the service clock.
func (s *StoryService) WithClock(now Clock) *StoryService {
	s.now = now
	return s
}

// Create validates and stores a new story expiring one TTL from now.
func (s *StoryService) Create(ctx context.Context, in CreateStoryInput) (*models.Story, error) {
	if !in.MediaType.Valid() {
		return nil, models.NewValidationError("Media type must be image or video")
	}
	if strings.TrimSpace(in.MediaURL) == "" {
		return nil, models.NewValidationError("Media URL is required")
	}
	if err := validation.ValidateCaption(in.Caption, models.MaxCaptionLength); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	duration := s.defaults.durationFor(in.MediaType)
	if in.DurationMs != nil {
		if *in.DurationMs <= 0 {
			return nil, models.NewValidationError("Duration must be a positive number of milliseconds")
		}
		duration = *in.DurationMs
	}
	if in.CTA != nil {
		if err := validation.ValidateCTA(in.CTA.Text, in.CTA.Link); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
	}
	if in.ProductID != nil {
		if _, err := s.products.GetByID(ctx, *in.ProductID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	story := &models.Story{
		UserID:     in.AuthorID,
		ProductID:  in.ProductID,
		MediaType:  in.MediaType,
		MediaURL:   in.MediaURL,
		Thumbnail:  in.Thumbnail,
		Caption:    in.Caption,
		DurationMs: duration,
		IsActive:   true,
		ExpiresAt:  now.Add(s.defaults.TTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	story.SetCTA(in.CTA)

	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}
	observability.StoriesCreated.WithLabelValues(string(in.MediaType)).Inc()

	created, err := s.stories.GetByID(ctx, story.ID)
	if err != nil {
		return nil, err
	}

	if s.notifications != nil && s.flags.Enabled(featureflags.StoryFanout, in.AuthorID) {
		s.dispatch(ctx, "story_fanout", func(ctx context.Context) error {
			return s.fanOutNewStory(ctx, created)
		})
	}
	return created, nil
}

func (s *StoryService) fanOutNewStory(ctx context.Context, story *models.Story) error {
	followers, err := s.follows.FollowerIDs(ctx, story.UserID)
	if err != nil {
		return err
	}
	author := "Someone you follow"
	if story.User != nil && story.User.Name != "" {
		author = story.User.Name
	}
	_, err = s.notifications.FanOut(ctx, followers, models.Notification{
		Type:    models.NotificationSocial,
		Title:   "New story",
		Message: fmt.Sprintf("%s posted a new story", author),
		Data:    models.JSONMap{"storyId": story.ID, "authorId": story.UserID},
		Link:    "/stories/" + strconv.FormatUint(uint64(story.ID), 10),
	})
	return err
}

// Get returns a live story. Expired or deleted stories are Gone.
func (s *StoryService) Get(ctx context.Context, id uint) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !story.IsLive(s.now()) {
		return nil, models.NewGoneError("Story", id)
	}
	return story, nil
}

// ListActiveByAuthor returns the author's live stories, newest first.
func (s *StoryService) ListActiveByAuthor(ctx context.Context, authorID uint) ([]models.Story, error) {
	return s.stories.ListLiveByAuthor(ctx, authorID, s.now())
}

// SoftDelete deactivates a story owned by requesterID. The row is kept.
func (s *StoryService) SoftDelete(ctx context.Context, storyID, requesterID uint) error {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return err
	}
	if story.UserID != requesterID {
		return models.NewForbiddenError("You can only delete your own stories")
	}
	return s.stories.Deactivate(ctx, storyID)
}

// RecordView adds userID to the story's viewers. Repeat views keep the first
// timestamp and leave the count unchanged.
func (s *StoryService) RecordView(ctx context.Context, storyID, userID uint) (int, error) {
	span, ctx := observability.NewSpan(ctx, "story.view", attribute.Int64("story.id", int64(storyID)))
	defer span.End()

	count, added, err := s.stories.RecordView(ctx, storyID, userID, s.now())
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	span.AddAttributes(attribute.Bool("view.added", added), attribute.Int("story.view_count", count))
	outcome := "repeat"
	if added {
		outcome = "new"
	}
	observability.StoryViews.WithLabelValues(outcome).Inc()
	return count, nil
}

// ToggleLike flips userID's like on the story and returns the new count and
// whether the story is now liked.
func (s *StoryService) ToggleLike(ctx context.Context, storyID, userID uint) (int, bool, error) {
	span, ctx := observability.NewSpan(ctx, "story.like_toggle", attribute.Int64("story.id", int64(storyID)))
	defer span.End()

	count, liked, err := s.stories.ToggleLike(ctx, storyID, userID, s.now())
	if err != nil {
		span.SetError(err)
		return 0, false, err
	}
	span.AddAttributes(attribute.Bool("like.liked", liked), attribute.Int("story.like_count", count))
	action := "unlike"
	if liked {
		action = "like"
	}
	observability.StoryLikeToggles.WithLabelValues(action).Inc()

	if liked && s.notifications != nil && s.flags.Enabled(featureflags.StoryLikeNotifications, userID) {
		s.dispatch(ctx, "story_like", func(ctx context.Context) error {
			return s.notifyLike(ctx, storyID, userID)
		})
	}
	return count, liked, nil
}

func (s *StoryService) notifyLike(ctx context.Context, storyID, likerID uint) error {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return err
	}
	if story.UserID == likerID {
		return nil
	}
	return s.notifications.Notify(ctx, &models.Notification{
		RecipientID: story.UserID,
		Type:        models.NotificationSocial,
		Title:       "Story liked",
		Message:     "Someone liked your story",
		Data:        models.JSONMap{"storyId": storyID, "userId": likerID},
		Link:        "/stories/" + strconv.FormatUint(uint64(storyID), 10),
	})
}

// ListViews returns the viewers of a story. Only the author may see them.
func (s *StoryService) ListViews(ctx context.Context, storyID, requesterID uint) ([]models.StoryView, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.UserID != requesterID {
		return nil, models.NewForbiddenError("Only the story owner can see its viewers")
	}
	return s.stories.ListViews(ctx, storyID)
}

// SweepExpired deactivates expired stories. Concurrent callers share one
// UPDATE.
func (s *StoryService) SweepExpired(ctx context.Context, trigger string) (int64, error) {
	v, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.stories.SweepExpired(ctx, s.now())
	})
	if err != nil {
		observability.StorySweepErrors.WithLabelValues(trigger).Inc()
		middleware.Logger.ErrorContext(ctx, "story sweep failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()))
		return 0, err
	}
	n := v.(int64)
	if n > 0 {
		observability.StoriesExpired.WithLabelValues(trigger).Add(float64(n))
		middleware.Logger.InfoContext(ctx, "expired stories deactivated",
			slog.String("trigger", trigger),
			slog.Int64("count", n))
	}
	return n, nil
}
