// Package testutil provides shared test fixtures for backend tests.
package testutil

import (
	"testing"
	"time"

	"sokoni/internal/database"
	"sokoni/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory SQLite database with the full schema.
// The pool is pinned to one connection so every query sees the same database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// CreateUser inserts a verified user with fake profile data.
func CreateUser(t *testing.T, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Name:       gofakeit.Name(),
		Email:      gofakeit.UUID() + "@example.test",
		Password:   "x",
		Role:       role,
		IsVerified: true,
		IsActive:   true,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateProduct inserts an active product for sellerID.
func CreateProduct(t *testing.T, db *gorm.DB, sellerID uint) *models.Product {
	t.Helper()
	p := &models.Product{
		Title:    gofakeit.ProductName(),
		Price:    gofakeit.Price(100, 5000),
		Category: gofakeit.ProductCategory(),
		Stock:    10,
		SellerID: sellerID,
		IsActive: true,
	}
	if err := db.Omit("Seller").Create(p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// CreateStory inserts an image story by authorID created at createdAt with the
// given lifetime.
func CreateStory(t *testing.T, db *gorm.DB, authorID uint, createdAt time.Time, ttl time.Duration) *models.Story {
	t.Helper()
	s := &models.Story{
		UserID:     authorID,
		MediaType:  models.MediaTypeImage,
		MediaURL:   "/uploads/" + gofakeit.UUID() + ".jpg",
		DurationMs: 5000,
		IsActive:   true,
		ExpiresAt:  createdAt.Add(ttl),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := db.Omit("User", "Product", "Views").Create(s).Error; err != nil {
		t.Fatalf("create story: %v", err)
	}
	return s
}
