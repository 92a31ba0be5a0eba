package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"sokoni/internal/models"
	"sokoni/internal/observability"
	"sokoni/internal/repository"
)

// MaxOrderLines caps the distinct items in one order.
const MaxOrderLines = 50

// OrderService places and tracks customer orders against catalog stock.
type OrderService struct {
	orders        repository.OrderRepository
	notifications Notifications
	dispatch      func(ctx context.Context, what string, fn func(context.Context) error)
}

type CreateOrderInput struct {
	CustomerID      uint
	Lines           []repository.OrderLine
	ShippingAddress models.ShippingAddress
	PaymentMethod   models.PaymentMethod
	Notes           string
}

type UpdateOrderInput struct {
	Status        *models.OrderStatus
	PaymentStatus *models.PaymentStatus
	Notes         *string
}

// NewOrderService returns an OrderService. notifications may be nil.
func NewOrderService(orders repository.OrderRepository, notifications Notifications) *OrderService {
	return &OrderService{orders: orders, notifications: notifications, dispatch: sendAsync}
}

// Create reserves stock and stores the order. Each seller with items in it
// is notified.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if len(in.Lines) == 0 {
		return nil, models.NewValidationError("No items in order")
	}
	if len(in.Lines) > MaxOrderLines {
		return nil, models.NewValidationError(fmt.Sprintf("An order may hold at most %d items", MaxOrderLines))
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentCash
	}
	if !in.PaymentMethod.Valid() {
		return nil, models.NewValidationError("Invalid payment method")
	}

	order := &models.Order{
		CustomerID:      in.CustomerID,
		ShippingAddress: in.ShippingAddress,
		Status:          models.OrderPending,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   models.PaymentPending,
		Notes:           strings.TrimSpace(in.Notes),
	}
	if err := s.orders.Create(ctx, order, in.Lines); err != nil {
		return nil, err
	}
	observability.OrderTransitions.WithLabelValues(string(models.OrderPending)).Inc()

	if s.notifications != nil {
		placed := *order
		s.dispatch(ctx, "order", func(ctx context.Context) error {
			return s.notifySellers(ctx, &placed)
		})
	}
	return s.orders.GetByID(ctx, order.ID)
}

func (s *OrderService) notifySellers(ctx context.Context, order *models.Order) error {
	for _, sellerID := range order.SellerIDs() {
		units := 0
		for _, it := range order.Items {
			if it.SellerID == sellerID {
				units += it.Quantity
			}
		}
		err := s.notifications.Notify(ctx, &models.Notification{
			RecipientID: sellerID,
			Type:        models.NotificationOrder,
			Title:       "New order",
			Message:     fmt.Sprintf("Order %s includes %d of your items", order.OrderNumber, units),
			Data:        models.JSONMap{"orderId": order.ID, "orderNumber": order.OrderNumber},
			Link:        orderLink(order.ID),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func orderLink(id uint) string {
	return "/orders/" + strconv.FormatUint(uint64(id), 10)
}

// List returns the customer's orders, newest first.
func (s *OrderService) List(ctx context.Context, customerID uint, limit, offset int) ([]models.Order, error) {
	return s.orders.ListByCustomer(ctx, customerID, limit, offset)
}

// History returns the customer's 50 most recent orders.
func (s *OrderService) History(ctx context.Context, customerID uint) ([]models.Order, error) {
	return s.orders.ListByCustomer(ctx, customerID, 50, 0)
}

// Sales returns orders that include the seller's products.
func (s *OrderService) Sales(ctx context.Context, sellerID uint, limit, offset int) ([]models.Order, error) {
	return s.orders.ListBySeller(ctx, sellerID, limit, offset)
}

// Get returns an order visible to its customer, a seller with items in it,
// or an admin.
func (s *OrderService) Get(ctx context.Context, actorID uint, actorRole models.Role, orderID uint) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != actorID && actorRole != models.RoleAdmin && !order.HasSeller(actorID) {
		return nil, models.NewForbiddenError("Not authorized to view this order")
	}
	return order, nil
}

// Cancel cancels a pending or confirmed order owned by actorID and restores
// its stock.
func (s *OrderService) Cancel(ctx context.Context, actorID, orderID uint) (*models.Order, error) {
	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) error {
		if o.CustomerID != actorID {
			return models.NewForbiddenError("Not authorized to cancel this order")
		}
		if !o.Status.Cancellable() {
			return models.NewValidationError("Cannot cancel order in current status")
		}
		o.Status = models.OrderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.OrderTransitions.WithLabelValues(string(models.OrderCancelled)).Inc()
	return order, nil
}

// Update changes an order's status fields. Admins may update any order;
// sellers only orders containing their products. The customer is notified
// when the status changes.
func (s *OrderService) Update(ctx context.Context, actorID uint, actorRole models.Role, orderID uint, in UpdateOrderInput) (*models.Order, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, models.NewValidationError("Invalid order status")
	}
	if in.PaymentStatus != nil && !in.PaymentStatus.Valid() {
		return nil, models.NewValidationError("Invalid payment status")
	}

	var before models.OrderStatus
	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) error {
		if actorRole != models.RoleAdmin && !o.HasSeller(actorID) {
			return models.NewForbiddenError("Not authorized to update this order")
		}
		before = o.Status
		if before == models.OrderCancelled && in.Status != nil && *in.Status != models.OrderCancelled {
			return models.NewValidationError("A cancelled order cannot be reopened")
		}
		if in.Status != nil {
			o.Status = *in.Status
		}
		if in.PaymentStatus != nil {
			o.PaymentStatus = *in.PaymentStatus
		}
		if in.Notes != nil {
			o.Notes = strings.TrimSpace(*in.Notes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if order.Status == before {
		return order, nil
	}
	observability.OrderTransitions.WithLabelValues(string(order.Status)).Inc()

	if s.notifications != nil {
		customerID, id, number, status := order.CustomerID, order.ID, order.OrderNumber, order.Status
		s.dispatch(ctx, "order_status", func(ctx context.Context) error {
			return s.notifications.Notify(ctx, &models.Notification{
				RecipientID: customerID,
				Type:        models.NotificationOrder,
				Title:       "Order updated",
				Message:     fmt.Sprintf("Order %s is now %s", number, status),
				Data:        models.JSONMap{"orderId": id, "status": string(status)},
				Link:        orderLink(id),
			})
		})
	}
	return order, nil
}
