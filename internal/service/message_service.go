package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/notifications"
	"sokoni/internal/observability"
	"sokoni/internal/repository"
)

const messagePreviewRunes = 80

// MessageService runs direct conversations between users.
type MessageService struct {
	messages      repository.MessageRepository
	users         repository.UserRepository
	notifications Notifications
	publisher     Publisher
	dispatch      func(ctx context.Context, what string, fn func(context.Context) error)
	now           Clock
}

type SendMessageInput struct {
	SenderID       uint
	ConversationID uint
	ReceiverID     uint
	Content        string
	Type           models.MessageType
	Attachments    models.Attachments
}

// NewMessageService returns a MessageService. notifications and publisher may
// be nil.
func NewMessageService(messages repository.MessageRepository, users repository.UserRepository, notifications Notifications, publisher Publisher) *MessageService {
	return &MessageService{
		messages:      messages,
		users:         users,
		notifications: notifications,
		publisher:     publisher,
		dispatch:      sendAsync,
		now:           utcNow,
	}
}

// WithClock replaces the service clock.
func (s *MessageService) WithClock(now Clock) *MessageService {
	s.now = now
	return s
}

// ListConversations returns the user's conversations, most recently active
// first, with per-conversation unread counts.
func (s *MessageService) ListConversations(ctx context.Context, userID uint, limit, offset int) ([]models.Conversation, error) {
	convs, err := s.messages.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	counts, err := s.messages.UnreadCounts(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].UnreadCount = counts[convs[i].ID]
	}
	return convs, nil
}

// participantConversation loads a conversation userID belongs to.
func (s *MessageService) participantConversation(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	conv, err := s.messages.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, models.NewForbiddenError("Not authorized to view this conversation")
	}
	return conv, nil
}

// GetConversation returns a conversation and a page of its messages in
// chronological order.
func (s *MessageService) GetConversation(ctx context.Context, userID, conversationID uint, limit, offset int) (*models.Conversation, []models.Message, error) {
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	counts, err := s.messages.UnreadCounts(ctx, userID, []uint{conv.ID})
	if err != nil {
		return nil, nil, err
	}
	conv.UnreadCount = counts[conv.ID]
	return conv, msgs, nil
}

// Send posts a message into an existing conversation or, given a receiver,
// into the pair's conversation, creating it on first contact. The recipient
// gets a live event and a stored notification.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, models.NewValidationError("Message content is required")
	}
	if utf8.RuneCountInString(in.Content) > models.MaxMessageLength {
		return nil, models.NewValidationError(fmt.Sprintf("Message must be at most %d characters", models.MaxMessageLength))
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return nil, models.NewValidationError("Invalid message type")
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, models.NewValidationError("Attachments need a URL")
		}
	}

	var (
		conv *models.Conversation
		err  error
	)
	switch {
	case in.ConversationID != 0:
		if conv, err = s.participantConversation(ctx, in.SenderID, in.ConversationID); err != nil {
			return nil, err
		}
	case in.ReceiverID != 0:
		if in.ReceiverID == in.SenderID {
			return nil, models.NewValidationError("You cannot message yourself")
		}
		if _, err := s.users.GetByID(ctx, in.ReceiverID); err != nil {
			return nil, err
		}
		if conv, err = s.messages.FindOrCreateConversation(ctx, in.SenderID, in.ReceiverID); err != nil {
			return nil, err
		}
	default:
		return nil, models.NewValidationError("conversationId or receiverId is required")
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		Attachments:    in.Attachments,
		CreatedAt:      s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	stored, err := s.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	recipientID := conv.OtherParticipant(in.SenderID)
	s.deliver(ctx, recipientID, stored)
	return stored, nil
}

func (s *MessageService) deliver(ctx context.Context, recipientID uint, msg *models.Message) {
	if s.publisher != nil {
		if err := s.publisher.PublishUserEvent(ctx, recipientID, notifications.Event{Type: "message", Payload: msg}); err != nil {
			middleware.Logger.WarnContext(ctx, "message publish failed",
				slog.Uint64("recipient_id", uint64(recipientID)),
				slog.String("error", err.Error()))
		}
	}
	if s.notifications == nil {
		return
	}
	senderName := "Someone"
	if msg.Sender != nil {
		senderName = msg.Sender.Name
	}
	convID, msgID, preview := msg.ConversationID, msg.ID, previewText(msg.Content)
	s.dispatch(ctx, "message", func(ctx context.Context) error {
		return s.notifications.Notify(ctx, &models.Notification{
			RecipientID: recipientID,
			Type:        models.NotificationMessage,
			Title:       "New message from " + senderName,
			Message:     preview,
			Data:        models.JSONMap{"conversationId": convID, "messageId": msgID},
			Link:        "/messages/" + strconv.FormatUint(uint64(convID), 10),
		})
	})
}

func previewText(s string) string {
	if utf8.RuneCountInString(s) <= messagePreviewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:messagePreviewRunes]) + "…"
}

// MarkRead records that userID read a message in one of their conversations.
// Reading your own message is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID uint) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.participantConversation(ctx, userID, msg.ConversationID); err != nil {
		return err
	}
	if msg.SenderID == userID {
		return nil
	}
	_, err = s.messages.MarkRead(ctx, messageID, userID, s.now())
	return err
}

// MarkConversationRead marks every unread message in the conversation read
// and returns how many changed.
func (s *MessageService) MarkConversationRead(ctx context.Context, userID, conversationID uint) (int64, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	return s.messages.MarkConversationRead(ctx, conversationID, userID, s.now())
}
