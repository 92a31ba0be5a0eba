package repository

import (
	"context"
	"errors"
	"strings"

	"sokoni/internal/cache"
	"sokoni/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductFilter narrows a catalog listing.
type ProductFilter struct {
	Category string
	SellerID uint
	Search   string
	Limit    int
	Offset   int
}

// ProductRepository defines the interface for catalog data operations
type ProductRepository interface {
	Create(ctx context.Context, product *models.Product) error
	GetByID(ctx context.Context, id uint) (*models.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error)
	Update(ctx context.Context, id uint, fields map[string]interface{}) (*models.Product, error)
	Delete(ctx context.Context, id uint) error
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *models.Product) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(product).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetByID returns a product with its seller, using Redis cache-aside.
func (r *productRepository) GetByID(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	err := cache.Aside(ctx, cache.ProductKey(id), &product, cache.ProductTTL, func() error {
		if err := r.db.WithContext(ctx).Preload("Seller", publicUser).First(&product, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Product", id)
			}
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) List(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)

	q := r.db.WithContext(ctx).Model(&models.Product{}).Where("is_active = ?", true)
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.SellerID != 0 {
		q = q.Where("seller_id = ?", filter.SellerID)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var products []models.Product
	if err := q.Preload("Seller", publicUser).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&products).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return products, total, nil
}

func (r *productRepository) Update(ctx context.Context, id uint, fields map[string]interface{}) (*models.Product, error) {
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, models.NewNotFoundError("Product", id)
		}
		cache.InvalidateProduct(ctx, id)
	}
	return r.GetByID(ctx, id)
}

func (r *productRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Product", id)
	}
	cache.InvalidateProduct(ctx, id)
	return nil
}
