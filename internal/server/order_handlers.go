package server

import (
	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetOrders handles GET /api/orders
// @Summary List my orders
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Order
// @Router /orders [get]
func (s *Server) GetOrders(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	orders, err := s.orderSvc.List(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(orders)
}

// GetOrderHistory handles GET /api/orders/history
// @Summary Recent order history
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Order
// @Router /orders/history [get]
func (s *Server) GetOrderHistory(c *fiber.Ctx) error {
	orders, err := s.orderSvc.History(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(orders)
}

// GetSales handles GET /api/orders/sales
// @Summary Orders containing my products
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Order
// @Failure 403 {object} models.ErrorResponse
// @Router /orders/sales [get]
func (s *Server) GetSales(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	orders, err := s.orderSvc.Sales(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(orders)
}

// GetOrder handles GET /api/orders/:id
// @Summary Get an order
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Success 200 {object} models.Order
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /orders/{id} [get]
func (s *Server) GetOrder(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	order, err := s.orderSvc.Get(c.UserContext(), currentUserID(c), currentRole(c), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(order)
}

type orderItemRequest struct {
	Product  uint `json:"product"`
	ID       uint `json:"id"`
	Quantity int  `json:"quantity"`
}

// CreateOrder handles POST /api/orders
// @Summary Place an order
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{items=[]object{product=int,quantity=int},shippingAddress=models.ShippingAddress,paymentMethod=string,notes=string} true "Order"
// @Success 201 {object} object{message=string,order=models.Order}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /orders [post]
func (s *Server) CreateOrder(c *fiber.Ctx) error {
	var req struct {
		Items           []orderItemRequest     `json:"items"`
		ShippingAddress models.ShippingAddress `json:"shippingAddress"`
		PaymentMethod   models.PaymentMethod   `json:"paymentMethod"`
		Notes           string                 `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	lines := make([]repository.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		productID := it.Product
		if productID == 0 {
			productID = it.ID
		}
		lines = append(lines, repository.OrderLine{ProductID: productID, Quantity: it.Quantity})
	}

	order, err := s.orderSvc.Create(c.UserContext(), service.CreateOrderInput{
		CustomerID:      currentUserID(c),
		Lines:           lines,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Order created successfully",
		"order":   order,
	})
}

// UpdateOrder handles PUT /api/orders/:id
// @Summary Update order status
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Param request body object{status=string,paymentStatus=string,notes=string} true "Fields to change"
// @Success 200 {object} object{message=string,order=models.Order}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /orders/{id} [put]
func (s *Server) UpdateOrder(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Status        *models.OrderStatus   `json:"status"`
		PaymentStatus *models.PaymentStatus `json:"paymentStatus"`
		Notes         *string               `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	order, err := s.orderSvc.Update(c.UserContext(), currentUserID(c), currentRole(c), id, service.UpdateOrderInput{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		Notes:         req.Notes,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Order updated successfully",
		"order":   order,
	})
}

// CancelOrder handles POST /api/orders/:id/cancel
// @Summary Cancel my order
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Success 200 {object} object{message=string,order=models.Order}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /orders/{id}/cancel [post]
func (s *Server) CancelOrder(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	order, err := s.orderSvc.Cancel(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Order cancelled successfully",
		"order":   order,
	})
}
