package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sokoni/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenIssuer   = "sokoni-api"
	tokenAudience = "sokoni-client"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims carried by access and refresh tokens.
type Claims struct {
	Role models.Role `json:"role,omitempty"`
	Type string      `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid subject")
	}
	return uint(id), nil
}

// TokenPair is returned on login, verification and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           Clock
}

// NewTokenIssuer returns a TokenIssuer using separate secrets per token type.
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// Issue signs a new access/refresh pair for user.
func (t *TokenIssuer) Issue(user *models.User) (*TokenPair, error) {
	access, err := t.sign(user, TokenTypeAccess, t.accessTTL, t.accessSecret)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(user, TokenTypeRefresh, t.refreshTTL, t.refreshSecret)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(t.accessTTL.Seconds())}, nil
}

func (t *TokenIssuer) sign(user *models.User, typ string, ttl time.Duration, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	now := t.now()
	claims := Claims{
		Role: user.Role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ParseAccess verifies an access token.
func (t *TokenIssuer) ParseAccess(raw string) (*Claims, error) {
	return t.parse(raw, TokenTypeAccess, t.accessSecret)
}

// ParseRefresh verifies a refresh token.
func (t *TokenIssuer) ParseRefresh(raw string) (*Claims, error) {
	return t.parse(raw, TokenTypeRefresh, t.refreshSecret)
}

func (t *TokenIssuer) parse(raw, typ string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, models.NewUnauthorizedError("Invalid or expired token")
	}
	if claims.Type != typ {
		return nil, models.NewUnauthorizedError("Wrong token type")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, models.NewUnauthorizedError("Invalid token subject")
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a token, as stored on the user row.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Revoker tracks revoked access-token IDs until they would have expired.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevoker stores revoked JTIs as blacklist:<jti> keys.
type RedisRevoker struct {
	rdb *redis.Client
}

// NewRedisRevoker returns a Revoker. A nil client disables revocation.
func NewRedisRevoker(rdb *redis.Client) *RedisRevoker {
	return &RedisRevoker{rdb: rdb}
}

// BlacklistKey is the Redis key marking jti as revoked.
func BlacklistKey(jti string) string { return "blacklist:" + jti }

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if r.rdb == nil || jti == "" || ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, BlacklistKey(jti), "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.rdb == nil || jti == "" {
		return false, nil
	}
	n, err := r.rdb.Exists(ctx, BlacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
