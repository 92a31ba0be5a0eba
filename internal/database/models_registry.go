package database

import "sokoni/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Product{},
		&models.Follow{},
		&models.Story{},
		&models.StoryView{},
		&models.StoryLike{},
		&models.Notification{},
		&models.Order{},
		&models.OrderItem{},
		&models.Conversation{},
		&models.Message{},
		&models.MessageRead{},
	}
}
