package models

import (
	"time"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// Cancellable reports whether a customer may still cancel the order.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderConfirmed
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentMpesa        PaymentMethod = "mpesa"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMpesa, PaymentBankTransfer:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// ShippingAddress is stored inline on the order.
type ShippingAddress struct {
	Street  string `gorm:"size:200" json:"street,omitempty"`
	City    string `gorm:"size:100" json:"city,omitempty"`
	State   string `gorm:"size:100" json:"state,omitempty"`
	Country string `gorm:"size:100" json:"country,omitempty"`
	ZipCode string `gorm:"size:20" json:"zipCode,omitempty"`
}

// Order is a customer's purchase of one or more catalog products. Items carry
// a snapshot of the product at purchase time.
type Order struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderNumber     string          `gorm:"size:20;uniqueIndex;default:null" json:"orderNumber"`
	CustomerID      uint            `gorm:"not null;index" json:"customerId"`
	Customer        *UserSummary    `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal        float64         `gorm:"not null" json:"subtotal"`
	Shipping        float64         `gorm:"not null;default:0" json:"shipping"`
	Tax             float64         `gorm:"not null;default:0" json:"tax"`
	Total           float64         `gorm:"not null" json:"total"`
	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:shipping_" json:"shippingAddress"`
	Status          OrderStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod   PaymentMethod   `gorm:"type:varchar(20);not null;default:'cash'" json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"paymentStatus"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Order) TableName() string {
	return "orders"
}

// SellerIDs returns the distinct sellers whose products are in the order.
func (o *Order) SellerIDs() []uint {
	seen := make(map[uint]bool, len(o.Items))
	var ids []uint
	for _, it := range o.Items {
		if !seen[it.SellerID] {
			seen[it.SellerID] = true
			ids = append(ids, it.SellerID)
		}
	}
	return ids
}

// HasSeller reports whether sellerID supplied any item of the order.
func (o *Order) HasSeller(sellerID uint) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

// OrderItem is one product line of an order.
type OrderItem struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	OrderID   uint    `gorm:"not null;index" json:"orderId"`
	ProductID uint    `gorm:"not null;index" json:"productId"`
	SellerID  uint    `gorm:"not null;index" json:"sellerId"`
	Title     string  `gorm:"size:200;not null" json:"title"`
	Price     float64 `gorm:"not null" json:"price"`
	Quantity  int     `gorm:"not null" json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

// TableName specifies the table name for GORM
func (OrderItem) TableName() string {
	return "order_items"
}
