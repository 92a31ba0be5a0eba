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

// MessageRepository owns conversations, their messages and read receipts.
type MessageRepository interface {
	// FindOrCreateConversation returns the conversation between a and b,
	// creating it on first contact.
	FindOrCreateConversation(ctx context.Context, a, b uint) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uint, limit, offset int) ([]models.Conversation, error)
	// UnreadCounts returns, per conversation, the messages userID has not read.
	UnreadCounts(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]int64, error)
	// CreateMessage stores msg and bumps the conversation's last message.
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]models.Message, error)
	// MarkRead records a read receipt and reports whether it is new.
	MarkRead(ctx context.Context, messageID, userID uint, now time.Time) (bool, error)
	// MarkConversationRead records receipts for every message userID has not
	// read in the conversation and returns how many were added.
	MarkConversationRead(ctx context.Context, conversationID, userID uint, now time.Time) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) FindOrCreateConversation(ctx context.Context, a, b uint) (*models.Conversation, error) {
	low, high := models.ConversationPair(a, b)
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Conversation{UserLowID: low, UserHighID: high})
	if res.Error != nil {
		return nil, models.NewInternalError(res.Error)
	}

	var conv models.Conversation
	if err := r.withParticipants(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&conv).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	conv.FillParticipants()
	return &conv, nil
}

func (r *messageRepository) withParticipants(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("UserLow", publicUser).
		Preload("UserHigh", publicUser)
}

func (r *messageRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.withParticipants(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Conversation", id)
		}
		return nil, models.NewInternalError(err)
	}
	conv.FillParticipants()
	return &conv, nil
}

func (r *messageRepository) ListConversations(ctx context.Context, userID uint, limit, offset int) ([]models.Conversation, error) {
	defer observability.TrackQuery("select", "conversations")()

	limit, offset = clampPage(limit, offset)
	var convs []models.Conversation
	if err := r.withParticipants(ctx).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for i := range convs {
		convs[i].FillParticipants()
	}
	return convs, nil
}

// unread selects the messages in scope that userID neither sent nor read.
func unread(db *gorm.DB, userID uint) *gorm.DB {
	return db.Model(&models.Message{}).
		Where("messages.sender_id <> ? AND messages.is_deleted = ?", userID, false).
		Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID)
}

func (r *messageRepository) UnreadCounts(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID uint
		N              int64
	}
	if err := unread(r.db.WithContext(ctx), userID).
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS n").
		Where("messages.conversation_id IN ?", conversationIDs).
		Group("messages.conversation_id").
		Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, row := range rows {
		out[row.ConversationID] = row.N
	}
	return out, nil
}

func (r *messageRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("insert", "messages")()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return models.NewInternalError(err)
		}
		res := tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			UpdateColumns(map[string]interface{}{
				"last_message":    msg.Content,
				"last_message_at": msg.CreatedAt,
				"updated_at":      msg.CreatedAt,
			})
		if res.Error != nil {
			return models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Conversation", msg.ConversationID)
		}
		return nil
	})
}

func (r *messageRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).
		Preload("Sender", publicUser).
		Where("is_deleted = ?", false).
		First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

// ListMessages returns a page of the thread in chronological order. Offset
// counts back from the newest message.
func (r *messageRepository) ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]models.Message, error) {
	defer observability.TrackQuery("select", "messages")()

	limit, offset = clampPage(limit, offset)
	var msgs []models.Message
	if err := r.db.WithContext(ctx).
		Preload("Sender", publicUser).
		Preload("ReadBy").
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, messageID, userID uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MessageRead{MessageID: messageID, UserID: userID, ReadAt: now})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID, userID uint, now time.Time) (int64, error) {
	defer observability.TrackQuery("insert", "message_reads")()

	var ids []uint
	if err := unread(r.db.WithContext(ctx), userID).
		Where("messages.conversation_id = ?", conversationID).
		Pluck("messages.id", &ids).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	receipts := make([]models.MessageRead, len(ids))
	for i, id := range ids {
		receipts[i] = models.MessageRead{MessageID: id, UserID: userID, ReadAt: now}
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(receipts, 200)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
