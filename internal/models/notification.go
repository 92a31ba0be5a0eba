package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationOrder    NotificationType = "order"
	NotificationDelivery NotificationType = "delivery"
	NotificationMessage  NotificationType = "message"
	NotificationPayment  NotificationType = "payment"
	NotificationSystem   NotificationType = "system"
	NotificationSocial   NotificationType = "social"
)

// JSONMap is a free-form JSON object stored in a text column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported JSONMap source %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Notification is a persisted message for one recipient.
type Notification struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	RecipientID uint             `gorm:"not null;index:idx_notifications_recipient_read,priority:1" json:"recipientId"`
	Type        NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	Title       string           `gorm:"size:200;not null" json:"title"`
	Message     string           `gorm:"type:text;not null" json:"message"`
	Data        JSONMap          `gorm:"type:text" json:"data,omitempty"`
	Link        string           `json:"link,omitempty"`
	Read        bool             `gorm:"not null;default:false;index:idx_notifications_recipient_read,priority:2" json:"read"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// TableName specifies the table name for GORM
func (Notification) TableName() string {
	return "notifications"
}
