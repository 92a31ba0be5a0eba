package models

import (
	"time"

	"gorm.io/gorm"
)

// Product is a catalog listing owned by a seller.
type Product struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"size:200;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description,omitempty"`
	Price       float64        `gorm:"not null" json:"price"`
	Category    string         `gorm:"size:100;index" json:"category,omitempty"`
	Image       string         `json:"image"`
	Stock       int            `gorm:"not null;default:0" json:"stock"`
	SellerID    uint           `gorm:"not null;index" json:"sellerId"`
	Seller      *UserSummary   `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	IsActive    bool           `gorm:"not null;default:true" json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for GORM
func (Product) TableName() string {
	return "products"
}
