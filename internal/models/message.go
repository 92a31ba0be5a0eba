package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MaxMessageLength is the message body limit in characters.
const MaxMessageLength = 2000

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a supported message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageFile
}

// Conversation is a two-party thread. The pair is stored ordered so each pair
// of users has at most one conversation.
type Conversation struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UserLowID     uint          `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1" json:"-"`
	UserHighID    uint          `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index" json:"-"`
	UserLow       *UserSummary  `gorm:"foreignKey:UserLowID" json:"-"`
	UserHigh      *UserSummary  `gorm:"foreignKey:UserHighID" json:"-"`
	Participants  []UserSummary `gorm:"-" json:"participants"`
	LastMessage   string        `gorm:"type:text" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
	UnreadCount   int64         `gorm:"-" json:"unreadCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationPair orders two user IDs the way conversations store them.
func ConversationPair(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID uint) bool {
	return c.UserLowID == userID || c.UserHighID == userID
}

// OtherParticipant returns the party that is not userID.
func (c *Conversation) OtherParticipant(userID uint) uint {
	if c.UserLowID == userID {
		return c.UserHighID
	}
	return c.UserLowID
}

// FillParticipants copies the loaded pair into Participants.
func (c *Conversation) FillParticipants() {
	c.Participants = c.Participants[:0]
	for _, u := range []*UserSummary{c.UserLow, c.UserHigh} {
		if u != nil {
			c.Participants = append(c.Participants, *u)
		}
	}
}

// Attachment is a file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// Attachments is stored as a JSON array in a text column.
type Attachments []Attachment

// Value implements driver.Valuer.
func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported Attachments source %T", src)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(raw, a)
}

// Message is one entry in a conversation.
type Message struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	ConversationID uint          `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       uint          `gorm:"not null;index" json:"senderId"`
	Sender         *UserSummary  `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	Type           MessageType   `gorm:"type:varchar(10);not null;default:'text'" json:"type"`
	Attachments    Attachments   `gorm:"type:text" json:"attachments,omitempty"`
	ReadBy         []MessageRead `gorm:"foreignKey:MessageID" json:"readBy,omitempty"`
	IsDeleted      bool          `gorm:"not null;default:false" json:"-"`
	CreatedAt      time.Time     `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_message_read,priority:1" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_message_read,priority:2" json:"userId"`
	ReadAt    time.Time `gorm:"not null" json:"readAt"`
}

// TableName specifies the table name for GORM
func (MessageRead) TableName() string {
	return "message_reads"
}
