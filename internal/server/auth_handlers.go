package server

import (
	"sokoni/internal/models"
	"sokoni/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Register handles POST /api/auth/register
// @Summary Register an account
// @Description Creates an unverified account and issues a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{name=string,email=string,password=string,phone=string,role=string,businessName=string} true "Registration"
// @Success 201 {object} object{message=string,userId=int}
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/register [post]
func (s *Server) Register(c *fiber.Ctx) error {
	var req struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		Phone        string `json:"phone"`
		Role         string `json:"role"`
		BusinessName string `json:"businessName"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Name, email, and password are required"))
	}

	user, err := s.authSvc.Register(c.UserContext(), service.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Phone:        req.Phone,
		Role:         models.Role(req.Role),
		BusinessName: req.BusinessName,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful. Please verify your OTP.",
		"userId":  user.ID,
	})
}

// VerifyOTP handles POST /api/auth/verify-otp
// @Summary Verify a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,otp=string} true "Verification"
// @Success 200 {object} object{message=string,accessToken=string,refreshToken=string,expiresIn=int,user=models.User}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /auth/verify-otp [post]
func (s *Server) VerifyOTP(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	user, tokens, err := s.authSvc.VerifyOTP(c.UserContext(), req.Email, req.OTP)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(sessionResponse("OTP verified successfully", user, tokens))
}

// ResendOTP handles POST /api/auth/resend-otp
// @Summary Resend a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string} true "Account email"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /auth/resend-otp [post]
func (s *Server) ResendOTP(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Email is required"))
	}
	if err := s.authSvc.ResendOTP(c.UserContext(), req.Email); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "OTP sent"})
}

// Login handles POST /api/auth/login
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Credentials"
// @Success 200 {object} object{message=string,accessToken=string,refreshToken=string,expiresIn=int,user=models.User}
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Email == "" || req.Password == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Email and password are required"))
	}
	user, tokens, err := s.authSvc.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(sessionResponse("Login successful", user, tokens))
}

// RefreshToken handles POST /api/auth/refresh (alias /api/auth/refresh-token)
// @Summary Rotate tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{refreshToken=string} true "Refresh token"
// @Success 200 {object} service.TokenPair
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
// @Router /auth/refresh-token [post]
func (s *Server) RefreshToken(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Refresh token required"))
	}
	tokens, err := s.authSvc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(tokens)
}

// Logout handles POST /api/auth/logout
// @Summary Log out
// @Description Clears the stored refresh token and revokes the access token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	jti, _ := c.Locals("jti").(string)
	if err := s.authSvc.Logout(c.UserContext(), currentUserID(c), jti, tokenExpiry(c)); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Logout successful"})
}

func sessionResponse(message string, user *models.User, tokens *service.TokenPair) fiber.Map {
	return fiber.Map{
		"message":      message,
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresIn":    tokens.ExpiresIn,
		"user":         user,
	}
}
