package service

import (
	"context"
	"strings"

	"sokoni/internal/models"
	"sokoni/internal/repository"
)

// ProductService manages the catalog that stories link to.
type ProductService struct {
	products repository.ProductRepository
	users    repository.UserRepository
}

type CreateProductInput struct {
	SellerID    uint
	Title       string
	Description string
	Price       float64
	Category    string
	Image       string
	Stock       int
}

type UpdateProductInput struct {
	Title       *string
	Description *string
	Price       *float64
	Category    *string
	Image       *string
	Stock       *int
	IsActive    *bool
}

func NewProductService(products repository.ProductRepository, users repository.UserRepository) *ProductService {
	return &ProductService{products: products, users: users}
}

func (s *ProductService) Create(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	seller, err := s.users.GetByID(ctx, in.SellerID)
	if err != nil {
		return nil, err
	}
	if !seller.Role.CanSell() {
		return nil, models.NewForbiddenError("Only sellers can list products")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, models.NewValidationError("Title is required")
	}
	if in.Price < 0 || in.Stock < 0 {
		return nil, models.NewValidationError("Price and stock must not be negative")
	}

	p := &models.Product{
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Image:       in.Image,
		Stock:       in.Stock,
		SellerID:    in.SellerID,
		IsActive:    true,
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.products.GetByID(ctx, p.ID)
}

func (s *ProductService) Get(ctx context.Context, id uint) (*models.Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *ProductService) List(ctx context.Context, filter repository.ProductFilter) ([]models.Product, int64, error) {
	return s.products.List(ctx, filter)
}

// Update edits a product owned by actorID.
func (s *ProductService) Update(ctx context.Context, actorID, productID uint, in UpdateProductInput) (*models.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.SellerID != actorID {
		return nil, models.NewForbiddenError("You can only edit your own products")
	}

	fields := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, models.NewValidationError("Title is required")
		}
		fields["title"] = title
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return nil, models.NewValidationError("Price must not be negative")
		}
		fields["price"] = *in.Price
	}
	if in.Category != nil {
		fields["category"] = strings.ToLower(strings.TrimSpace(*in.Category))
	}
	if in.Image != nil {
		fields["image"] = *in.Image
	}
	if in.Stock != nil {
		if *in.Stock < 0 {
			return nil, models.NewValidationError("Stock must not be negative")
		}
		fields["stock"] = *in.Stock
	}
	if in.IsActive != nil {
		fields["is_active"] = *in.IsActive
	}
	return s.products.Update(ctx, productID, fields)
}

// Delete removes a product owned by actorID; admins may delete any product.
func (s *ProductService) Delete(ctx context.Context, actorID uint, actorRole models.Role, productID uint) error {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	if p.SellerID != actorID && actorRole != models.RoleAdmin {
		return models.NewForbiddenError("You can only delete your own products")
	}
	return s.products.Delete(ctx, productID)
}
