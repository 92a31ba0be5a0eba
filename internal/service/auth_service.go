package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// OTPSender delivers one-time codes to users.
type OTPSender interface {
	SendOTP(ctx context.Context, user *models.User, code string) error
}

// LogOTPSender writes codes to the application log. Codes are only logged
// outside production.
type LogOTPSender struct {
	Production bool
}

func (s LogOTPSender) SendOTP(ctx context.Context, user *models.User, code string) error {
	attrs := []any{slog.Uint64("user_id", uint64(user.ID)), slog.String("email", user.Email)}
	if !s.Production {
		attrs = append(attrs, slog.String("otp", code))
	}
	middleware.Logger.InfoContext(ctx, "otp issued", attrs...)
	return nil
}

// RegisterInput is the payload of a new account.
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	Phone        string
	Role         models.Role
	BusinessName string
}

// AuthService handles registration, OTP verification and token lifecycle.
type AuthService struct {
	users      repository.UserRepository
	tokens     *TokenIssuer
	revoker    Revoker
	sender     OTPSender
	otpTTL     time.Duration
	bcryptCost int
	now        Clock
	newOTP     func() (string, error)
}

// NewAuthService returns an AuthService.
func NewAuthService(users repository.UserRepository, tokens *TokenIssuer, revoker Revoker, sender OTPSender, otpTTL time.Duration) *AuthService {
	if otpTTL <= 0 {
		otpTTL = 10 * time.Minute
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		revoker:    revoker,
		sender:     sender,
		otpTTL:     otpTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        utcNow,
		newOTP:     generateOTP,
	}
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Register creates an unverified account and sends it an OTP.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.ValidateName(in.Name); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if in.Role == "" {
		in.Role = models.RoleCustomer
	}
	if !in.Role.Valid() || in.Role == models.RoleAdmin {
		return nil, models.NewValidationError("Invalid role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		Phone:        strings.TrimSpace(in.Phone),
		Password:     string(hash),
		Role:         in.Role,
		BusinessName: strings.TrimSpace(in.BusinessName),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.issueOTP(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issueOTP(ctx context.Context, user *models.User) error {
	code, err := s.newOTP()
	if err != nil {
		return models.NewInternalError(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.users.SetOTP(ctx, user.ID, string(hash), s.now().Add(s.otpTTL)); err != nil {
		return err
	}
	if s.sender != nil {
		if err := s.sender.SendOTP(ctx, user, code); err != nil {
			return models.NewInternalError(fmt.Errorf("send otp: %w", err))
		}
	}
	return nil
}

// ResendOTP replaces the pending code of an unverified account.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if user.IsVerified {
		return models.NewValidationError("Account is already verified")
	}
	return s.issueOTP(ctx, user)
}

// VerifyOTP checks the code, marks the account verified and signs tokens.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*models.User, *TokenPair, error) {
	if err := validation.ValidateOTP(code); err != nil {
		return nil, nil, models.NewValidationError(err.Error())
	}
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, nil, err
	}
	if user.IsVerified {
		return nil, nil, models.NewValidationError("Account is already verified")
	}
	if user.OTPHash == "" || user.OTPExpiresAt == nil || !s.now().Before(*user.OTPExpiresAt) {
		return nil, nil, models.NewValidationError("Verification code has expired, request a new one")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.OTPHash), []byte(code)); err != nil {
		return nil, nil, models.NewValidationError("Invalid verification code")
	}
	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return nil, nil, err
	}
	user.IsVerified = true
	user.OTPHash, user.OTPExpiresAt = "", nil

	pair, err := s.startSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login authenticates a verified, active account.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, nil, models.NewUnauthorizedError("Invalid credentials")
		}
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if !user.IsActive {
		return nil, nil, models.NewForbiddenError("Account is disabled")
	}
	if !user.IsVerified {
		return nil, nil, models.NewForbiddenError("Please verify your account first")
	}
	pair, err := s.startSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token. The presented token must match the one
// last issued to the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	userID, _ := claims.UserID()
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return nil, models.NewUnauthorizedError("Invalid refresh token")
		}
		return nil, err
	}
	if user.RefreshTokenHash == "" || user.RefreshTokenHash != HashToken(refreshToken) {
		return nil, models.NewUnauthorizedError("Invalid refresh token")
	}
	if !user.IsActive {
		return nil, models.NewForbiddenError("Account is disabled")
	}
	return s.startSession(ctx, user)
}

// Logout drops the stored refresh token and revokes the access token id
// until it would have expired.
func (s *AuthService) Logout(ctx context.Context, userID uint, jti string, expiresAt time.Time) error {
	if err := s.users.SetRefreshTokenHash(ctx, userID, ""); err != nil {
		return err
	}
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, jti, time.Until(expiresAt)); err != nil {
		middleware.Logger.WarnContext(ctx, "token revocation failed", slog.String("error", err.Error()))
	}
	return nil
}

// Authenticate verifies an access token and rejects revoked ones.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return nil, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			middleware.Logger.WarnContext(ctx, "revocation check failed", slog.String("error", err.Error()))
		} else if revoked {
			return nil, models.NewUnauthorizedError("Token has been revoked")
		}
	}
	return claims, nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User) (*TokenPair, error) {
	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := s.users.SetRefreshTokenHash(ctx, user.ID, HashToken(pair.RefreshToken)); err != nil {
		return nil, err
	}
	return pair, nil
}
