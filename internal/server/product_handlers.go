package server

import (
	"strings"

	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListProducts handles GET /api/products
// @Summary Browse the catalog
// @Tags products
// @Produce json
// @Param category query string false "Category"
// @Param seller query int false "Seller ID"
// @Param search query string false "Title search"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} object{products=[]models.Product,total=int,limit=int,offset=int}
// @Router /products [get]
func (s *Server) ListProducts(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	filter := repository.ProductFilter{
		Category: strings.ToLower(strings.TrimSpace(c.Query("category"))),
		Search:   c.Query("search"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if seller := c.QueryInt("seller", 0); seller > 0 {
		filter.SellerID = uint(seller)
	}
	products, total, err := s.product.List(c.UserContext(), filter)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"products": products,
		"total":    total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// GetProduct handles GET /api/products/:id
// @Summary Get a product
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} models.Product
// @Failure 404 {object} models.ErrorResponse
// @Router /products/{id} [get]
func (s *Server) GetProduct(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	product, err := s.product.Get(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(product)
}

// CreateProduct handles POST /api/products
// @Summary List a product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{title=string,description=string,price=number,category=string,image=string,stock=int} true "Product"
// @Success 201 {object} object{message=string,product=models.Product}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /products [post]
func (s *Server) CreateProduct(c *fiber.Ctx) error {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
		Category    string  `json:"category"`
		Image       string  `json:"image"`
		Stock       int     `json:"stock"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	product, err := s.product.Create(c.UserContext(), service.CreateProductInput{
		SellerID:    currentUserID(c),
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Image:       req.Image,
		Stock:       req.Stock,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Product created successfully",
		"product": product,
	})
}

// UpdateProduct handles PUT /api/products/:id
// @Summary Edit own product
// @Tags products
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Product ID"
// @Param request body object{title=string,description=string,price=number,category=string,image=string,stock=int,isActive=bool} true "Fields to change"
// @Success 200 {object} object{message=string,product=models.Product}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /products/{id} [put]
func (s *Server) UpdateProduct(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Price       *float64 `json:"price"`
		Category    *string  `json:"category"`
		Image       *string  `json:"image"`
		Stock       *int     `json:"stock"`
		IsActive    *bool    `json:"isActive"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	product, err := s.product.Update(c.UserContext(), currentUserID(c), id, service.UpdateProductInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Image:       req.Image,
		Stock:       req.Stock,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Product updated successfully",
		"product": product,
	})
}

// DeleteProduct handles DELETE /api/products/:id
// @Summary Delete a product
// @Tags products
// @Produce json
// @Security BearerAuth
// @Param id path int true "Product ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /products/{id} [delete]
func (s *Server) DeleteProduct(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.product.Delete(c.UserContext(), currentUserID(c), currentRole(c), id); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Product deleted successfully"})
}
