// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Role is the marketplace role of an account.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRetailer   Role = "retailer"
	RoleWholesaler Role = "wholesaler"
	RoleAdmin      Role = "admin"
	RoleDelivery   Role = "delivery"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRetailer, RoleWholesaler, RoleAdmin, RoleDelivery:
		return true
	}
	return false
}

// CanSell reports whether the role may list products.
func (r Role) CanSell() bool {
	return r == RoleRetailer || r == RoleWholesaler || r == RoleAdmin
}

// User represents a marketplace account.
type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"size:100;not null" json:"name"`
	Email            string     `gorm:"size:254;uniqueIndex;not null" json:"email"`
	Phone            string     `gorm:"size:32" json:"phone,omitempty"`
	Password         string     `gorm:"not null" json:"-"`
	Role             Role       `gorm:"type:varchar(20);default:'customer';index" json:"role"`
	Avatar           string     `json:"avatar"`
	Bio              string     `gorm:"size:500" json:"bio"`
	BusinessName     string     `gorm:"size:150" json:"businessName,omitempty"`
	IsVerified       bool       `gorm:"default:false" json:"isVerified"`
	IsActive         bool       `gorm:"default:true" json:"isActive"`
	OTPHash          string     `json:"-"`
	OTPExpiresAt     *time.Time `json:"-"`
	RefreshTokenHash string     `json:"-"`
	FollowersCount   int        `gorm:"not null;default:0" json:"followersCount"`
	FollowingCount   int        `gorm:"not null;default:0" json:"followingCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// UserSummary is the public projection of a user carried into feeds and follow
// lists. It also maps onto the users table so associations on public records
// (story authors, viewers, product sellers) can never carry private columns.
type UserSummary struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Avatar         string `json:"avatar"`
	Role           Role   `json:"role"`
	BusinessName   string `json:"businessName,omitempty"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}

// TableName maps the projection onto the users table.
func (UserSummary) TableName() string {
	return "users"
}

// PublicUserColumns are the users columns UserSummary reads.
var PublicUserColumns = []string{"id", "name", "email", "avatar", "role", "business_name", "followers_count", "following_count"}

// Summary returns the public projection of u.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Avatar:         u.Avatar,
		Role:           u.Role,
		BusinessName:   u.BusinessName,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
	}
}

// Summaries projects a slice of users.
func Summaries(users []User) []UserSummary {
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out
}
