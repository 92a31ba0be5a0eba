package service

import (
	"context"
	"log/slog"
	"time"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/notifications"
	"sokoni/internal/observability"
	"sokoni/internal/repository"

	"github.com/sourcegraph/conc/pool"
)

// Publisher pushes live events to connected clients.
type Publisher interface {
	PublishUserEvent(ctx context.Context, userID uint, ev notifications.Event) error
}

// Notifications is what other services need to notify users.
type Notifications interface {
	Notify(ctx context.Context, n *models.Notification) error
	FanOut(ctx context.Context, recipients []uint, tmpl models.Notification) (int, error)
}

// NotificationService persists notifications and publishes them live.
type NotificationService struct {
	repo      repository.NotificationRepository
	publisher Publisher
	workers   int
	now       Clock
}

// NewNotificationService returns a NotificationService. workers bounds the
// number of concurrent publishes during fan-out.
func NewNotificationService(repo repository.NotificationRepository, publisher Publisher, workers int) *NotificationService {
	if workers <= 0 {
		workers = 4
	}
	return &NotificationService{repo: repo, publisher: publisher, workers: workers, now: utcNow}
}

// Notify stores n and publishes it to the recipient. Publish failures are
// logged; the stored row is the source of truth.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		observability.NotificationsPublished.WithLabelValues(string(n.Type), "store_error").Inc()
		return err
	}
	s.publish(ctx, n)
	return nil
}

// FanOut stores one copy of tmpl per recipient and publishes them through a
// bounded worker pool. It returns the number of stored notifications.
func (s *NotificationService) FanOut(ctx context.Context, recipients []uint, tmpl models.Notification) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	batch := make([]*models.Notification, 0, len(recipients))
	for _, id := range recipients {
		n := tmpl
		n.ID = 0
		n.RecipientID = id
		batch = append(batch, &n)
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		observability.NotificationsPublished.WithLabelValues(string(tmpl.Type), "store_error").Inc()
		return 0, err
	}

	p := pool.New().WithMaxGoroutines(s.workers)
	for _, n := range batch {
		p.Go(func() { s.publish(ctx, n) })
	}
	p.Wait()
	return len(batch), nil
}

func (s *NotificationService) publish(ctx context.Context, n *models.Notification) {
	if s.publisher == nil {
		observability.NotificationsPublished.WithLabelValues(string(n.Type), "stored").Inc()
		return
	}
	err := s.publisher.PublishUserEvent(ctx, n.RecipientID, notifications.Event{Type: "notification", Payload: n})
	if err != nil {
		observability.NotificationsPublished.WithLabelValues(string(n.Type), "publish_error").Inc()
		middleware.Logger.WarnContext(ctx, "notification publish failed",
			slog.Uint64("recipient_id", uint64(n.RecipientID)),
			slog.String("error", err.Error()))
		return
	}
	observability.NotificationsPublished.WithLabelValues(string(n.Type), "published").Inc()
}

// List returns a page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByRecipient(ctx, userID, unreadOnly, limit, offset)
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks one notification read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	return s.repo.MarkRead(ctx, notificationID, userID, s.now())
}

// MarkAllRead marks every unread notification read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

// sendAsync runs a best-effort notification on its own goroutine, detached
// from the request's cancellation.
func sendAsync(ctx context.Context, what string, fn func(ctx context.Context) error) {
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			middleware.Logger.WarnContext(ctx, "best-effort notification failed",
				slog.String("kind", what),
				slog.String("error", err.Error()))
		}
	}()
}
