package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"sokoni/internal/cache"
	"sokoni/internal/models"
	"sokoni/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderLine is a requested quantity of one product.
type OrderLine struct {
	ProductID uint
	Quantity  int
}

// OrderRepository owns orders and the stock they reserve.
type OrderRepository interface {
	// Create prices lines from the locked product rows, decrements stock and
	// stores order with its items in one transaction.
	Create(ctx context.Context, order *models.Order, lines []OrderLine) error
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID uint, limit, offset int) ([]models.Order, error)
	// Update locks the order, lets apply change it, and persists the status
	// fields. Moving an order into cancelled restores its stock.
	Update(ctx context.Context, id uint, apply func(o *models.Order) error) (*models.Order, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// mergeLines folds repeated products together and sorts by product ID so
// concurrent orders lock rows in the same order.
func mergeLines(lines []OrderLine) ([]OrderLine, error) {
	qty := make(map[uint]int, len(lines))
	for _, l := range lines {
		if l.ProductID == 0 {
			return nil, models.NewValidationError("Every item needs a product")
		}
		if l.Quantity < 1 {
			return nil, models.NewValidationError("Quantity must be at least 1")
		}
		qty[l.ProductID] += l.Quantity
	}
	out := make([]OrderLine, 0, len(qty))
	for id, q := range qty {
		out = append(out, OrderLine{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order, lines []OrderLine) error {
	defer observability.TrackQuery("insert", "orders")()

	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return models.NewValidationError("No items in order")
	}
	ids := make([]uint, len(merged))
	for i, l := range merged {
		ids[i] = l.ProductID
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var products []models.Product
		if err := forUpdate(tx).
			Where("id IN ?", ids).
			Order("id ASC").
			Find(&products).Error; err != nil {
			return models.NewInternalError(err)
		}
		byID := make(map[uint]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		order.Items = order.Items[:0]
		subtotal := 0.0
		for _, l := range merged {
			p, ok := byID[l.ProductID]
			if !ok || !p.IsActive {
				return models.NewNotFoundError("Product", l.ProductID)
			}
			if p.Stock < l.Quantity {
				return models.NewValidationError(fmt.Sprintf("Insufficient stock for %s", p.Title))
			}
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", p.ID, l.Quantity).
				UpdateColumn("stock", gorm.Expr("stock - ?", l.Quantity))
			if res.Error != nil {
				return models.NewInternalError(res.Error)
			}
			if res.RowsAffected == 0 {
				return models.NewValidationError(fmt.Sprintf("Insufficient stock for %s", p.Title))
			}
			subtotal += p.Price * float64(l.Quantity)
			order.Items = append(order.Items, models.OrderItem{
				ProductID: p.ID,
				SellerID:  p.SellerID,
				Title:     p.Title,
				Price:     p.Price,
				Quantity:  l.Quantity,
				Image:     p.Image,
			})
		}

		order.Subtotal = roundCents(subtotal)
		order.Total = roundCents(order.Subtotal + order.Shipping + order.Tax)
		if err := tx.Omit("Customer").Create(order).Error; err != nil {
			return models.NewInternalError(err)
		}
		order.OrderNumber = fmt.Sprintf("ORD%06d", order.ID)
		if err := tx.Model(order).UpdateColumn("order_number", order.OrderNumber).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		cache.InvalidateProduct(ctx, id)
	}
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	defer observability.TrackQuery("select", "orders")()

	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Customer", publicUser).
		First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Order", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID uint, limit, offset int) ([]models.Order, error) {
	limit, offset = clampPage(limit, offset)
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return orders, nil
}

func (r *orderRepository) ListBySeller(ctx context.Context, sellerID uint, limit, offset int) ([]models.Order, error) {
	limit, offset = clampPage(limit, offset)
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Customer", publicUser).
		Where("id IN (?)", r.db.Model(&models.OrderItem{}).Select("order_id").Where("seller_id = ?", sellerID)).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return orders, nil
}

func (r *orderRepository) Update(ctx context.Context, id uint, apply func(o *models.Order) error) (*models.Order, error) {
	defer observability.TrackQuery("update", "orders")()

	var restocked []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := forUpdate(tx).First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Order", id)
			}
			return models.NewInternalError(err)
		}
		if err := tx.Where("order_id = ?", id).Order("id ASC").Find(&order.Items).Error; err != nil {
			return models.NewInternalError(err)
		}

		before := order.Status
		if err := apply(&order); err != nil {
			return err
		}
		if !order.Status.Valid() || !order.PaymentStatus.Valid() {
			return models.NewValidationError("Invalid order status")
		}

		if order.Status == models.OrderCancelled && before != models.OrderCancelled {
			for _, it := range order.Items {
				if err := tx.Model(&models.Product{}).
					Where("id = ?", it.ProductID).
					UpdateColumn("stock", gorm.Expr("stock + ?", it.Quantity)).Error; err != nil {
					return models.NewInternalError(err)
				}
				restocked = append(restocked, it.ProductID)
			}
		}

		if err := tx.Model(&order).Omit(clause.Associations).Updates(map[string]interface{}{
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"notes":          order.Notes,
		}).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, pid := range restocked {
		cache.InvalidateProduct(ctx, pid)
	}
	return r.GetByID(ctx, id)
}
