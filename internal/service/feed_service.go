package service

import (
	"context"
	"log/slog"
	"time"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/observability"
	"sokoni/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Sweeper deactivates expired stories.
type Sweeper interface {
	SweepExpired(ctx context.Context, trigger string) (int64, error)
}

// FeedService assembles the per-viewer story feed.
type FeedService struct {
	stories     repository.StoryRepository
	follows     repository.FollowRepository
	sweeper     Sweeper
	sweepInline bool
	now         Clock
}

// NewFeedService returns a FeedService. When sweepInline is set every feed
// read first deactivates expired stories.
func NewFeedService(stories repository.StoryRepository, follows repository.FollowRepository, sweeper Sweeper, sweepInline bool) *FeedService {
	return &FeedService{
		stories:     stories,
		follows:     follows,
		sweeper:     sweeper,
		sweepInline: sweepInline,
		now:         utcNow,
	}
}

// WithClock replaces the service clock.
func (s *FeedService) WithClock(now Clock) *FeedService {
	s.now = now
	return s
}

// BuildFeed returns the live stories of the viewer and everyone they follow,
// grouped by author.
func (s *FeedService) BuildFeed(ctx context.Context, viewerID uint) ([]models.FeedGroup, error) {
	start := time.Now()
	defer func() { observability.FeedBuildLatency.Observe(time.Since(start).Seconds()) }()

	span, ctx := observability.NewSpan(ctx, "feed.build", attribute.Int64("viewer.id", int64(viewerID)))
	defer span.End()

	if s.sweepInline && s.sweeper != nil {
		// Sweep failures only delay cleanup; the live filter below still
		// hides expired stories.
		if _, err := s.sweeper.SweepExpired(ctx, SweepTriggerInline); err != nil {
			middleware.Logger.WarnContext(ctx, "inline sweep skipped", slog.String("error", err.Error()))
		}
	}

	following, err := s.follows.FollowingIDs(ctx, viewerID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	authors := append([]uint{viewerID}, following...)

	stories, err := s.stories.ListLiveByAuthors(ctx, authors, viewerID, s.now())
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	ids := make([]uint, len(stories))
	for i := range stories {
		ids[i] = stories[i].ID
	}
	liked, err := s.stories.LikedStoryIDs(ctx, viewerID, ids)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	for i := range stories {
		stories[i].IsLiked = liked[stories[i].ID]
	}

	groups := groupByAuthor(stories, viewerID)
	span.AddAttributes(
		attribute.Int("feed.authors", len(authors)),
		attribute.Int("feed.groups", len(groups)),
		attribute.Int("feed.stories", len(stories)),
	)
	return groups, nil
}

// BuildUserFeed returns one author's live stories, newest first.
func (s *FeedService) BuildUserFeed(ctx context.Context, authorID uint) ([]models.Story, error) {
	return s.stories.ListLiveByAuthor(ctx, authorID, s.now())
}

// groupByAuthor groups newest-first stories by author. Groups appear in the
// order their author is first seen, so the author with the newest story
// leads; stories keep their input order inside a group.
func groupByAuthor(stories []models.Story, viewerID uint) []models.FeedGroup {
	groups := make([]models.FeedGroup, 0)
	index := make(map[uint]int)

	for _, story := range stories {
		i, ok := index[story.UserID]
		if !ok {
			var author models.UserSummary
			if story.User != nil {
				author = *story.User
			} else {
				author.ID = story.UserID
			}
			groups = append(groups, models.FeedGroup{User: author, Stories: []models.Story{}})
			i = len(groups) - 1
			index[story.UserID] = i
		}
		groups[i].Stories = append(groups[i].Stories, story)
		if !story.HasBeenViewedBy(viewerID) {
			groups[i].HasUnviewed = true
		}
	}
	return groups
}
