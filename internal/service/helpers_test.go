package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"sokoni/internal/featureflags"
	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/testutil"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type notificationsMock struct {
	mock.Mock
}

func (m *notificationsMock) Notify(ctx context.Context, n *models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *notificationsMock) FanOut(ctx context.Context, recipients []uint, tmpl models.Notification) (int, error) {
	args := m.Called(ctx, recipients, tmpl)
	return args.Int(0), args.Error(1)
}

func syncDispatch(ctx context.Context, _ string, fn func(context.Context) error) {
	_ = fn(ctx)
}

// storyEnv wires the story, feed and follow services over one SQLite database.
type storyEnv struct {
	db      *gorm.DB
	clock   *fakeClock
	notify  *notificationsMock
	stories *StoryService
	feed    *FeedService
	follows *FollowService
}

func newStoryEnv(t *testing.T, flags string) *storyEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	clock := newFakeClock(t0)
	notify := &notificationsMock{}
	ff := featureflags.NewManager(flags)

	storyRepo := repository.NewStoryRepository(db)
	followRepo := repository.NewFollowRepository(db)
	userRepo := repository.NewUserRepository(db)

	stories := NewStoryService(storyRepo, repository.NewProductRepository(db), followRepo, notify, ff, StoryDefaultsFrom(nil)).
		WithClock(clock.Now)
	stories.dispatch = syncDispatch

	follows := NewFollowService(followRepo, userRepo, notify, ff)
	follows.dispatch = syncDispatch

	feed := NewFeedService(storyRepo, followRepo, stories, true).WithClock(clock.Now)

	return &storyEnv{db: db, clock: clock, notify: notify, stories: stories, feed: feed, follows: follows}
}

func imageStory(authorID uint) CreateStoryInput {
	return CreateStoryInput{AuthorID: authorID, MediaType: models.MediaTypeImage, MediaURL: "/uploads/stories/a.jpg"}
}

func intPtr(v int) *int { return &v }

func sameIDs(got, want []uint) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[uint]int, len(want))
	for _, id := range want {
		seen[id]++
	}
	for _, id := range got {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
