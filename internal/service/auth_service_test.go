package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"sokoni/internal/models"
	"sokoni/internal/repository"
	"sokoni/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type capturedOTP struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *capturedOTP) SendOTP(_ context.Context, user *models.User, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[user.Email] = code
	return nil
}

func (c *capturedOTP) code(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

type authEnv struct {
	svc    *AuthService
	sender *capturedOTP
	redis  *miniredis.Miniredis
	users  repository.UserRepository
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := repository.NewUserRepository(db)
	sender := &capturedOTP{}
	tokens := NewTokenIssuer("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	svc := NewAuthService(users, tokens, NewRedisRevoker(rdb), sender, 10*time.Minute)
	svc.bcryptCost = bcrypt.MinCost
	return &authEnv{svc: svc, sender: sender, redis: mr, users: users}
}

func TestAuthService_RegisterVerifyLogin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, RegisterInput{
		Name:     "Wanjiru",
		Email:    "  Wanjiru@Example.test ",
		Password: "sokoni123",
		Role:     models.RoleRetailer,
	})
	require.NoError(t, err)
	assert.Equal(t, "wanjiru@example.test", user.Email)
	assert.False(t, user.IsVerified)
	assert.NotEqual(t, "sokoni123", user.Password)

	_, _, err = env.svc.Login(ctx, user.Email, "sokoni123")
	assert.True(t, models.IsCode(err, models.CodeForbidden), "unverified accounts cannot log in")

	code := env.sender.code(user.Email)
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, _, err = env.svc.VerifyOTP(ctx, user.Email, wrong)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	verified, pair, err := env.svc.VerifyOTP(ctx, user.Email, code)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	require.NotNil(t, pair)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
	assert.Equal(t, models.RoleRetailer, claims.Role)

	_, _, err = env.svc.Login(ctx, user.Email, "wrong-pass1")
	assert.True(t, models.IsCode(err, models.CodeUnauthorized))
	_, _, err = env.svc.Login(ctx, "nobody@example.test", "sokoni123")
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "unknown accounts look like bad passwords")

	_, pair, err = env.svc.Login(ctx, "WANJIRU@example.test", "sokoni123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestAuthService_RegisterRejects(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	cases := map[string]RegisterInput{
		"admin role":   {Name: "A", Email: "a@example.test", Password: "sokoni123", Role: models.RoleAdmin},
		"weak pass":    {Name: "A", Email: "a@example.test", Password: "short"},
		"bad email":    {Name: "A", Email: "not-an-email", Password: "sokoni123"},
		"missing name": {Email: "a@example.test", Password: "sokoni123"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, in)
			assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
		})
	}

	_, err := env.svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.test", Password: "sokoni123"})
	require.NoError(t, err)
	_, err = env.svc.Register(ctx, RegisterInput{Name: "B", Email: "a@example.test", Password: "sokoni123"})
	assert.True(t, models.IsCode(err, models.CodeConflict))
}

func TestAuthService_ExpiredOTP(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	clock := newFakeClock(t0)
	env.svc.now = clock.Now

	user, err := env.svc.Register(ctx, RegisterInput{Name: "Otieno", Email: "otieno@example.test", Password: "sokoni123"})
	require.NoError(t, err)
	first := env.sender.code(user.Email)

	clock.Set(t0.Add(11 * time.Minute))
	_, _, err = env.svc.VerifyOTP(ctx, user.Email, first)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	require.NoError(t, env.svc.ResendOTP(ctx, user.Email))
	_, _, err = env.svc.VerifyOTP(ctx, user.Email, env.sender.code(user.Email))
	require.NoError(t, err)

	assert.True(t, models.IsCode(env.svc.ResendOTP(ctx, user.Email), models.CodeValidation), "verified accounts need no code")
}

func verifiedSession(t *testing.T, env *authEnv, email string) (*models.User, *TokenPair) {
	t.Helper()
	ctx := context.Background()
	_, err := env.svc.Register(ctx, RegisterInput{Name: "Session User", Email: email, Password: "sokoni123"})
	require.NoError(t, err)
	user, pair, err := env.svc.VerifyOTP(ctx, email, env.sender.code(email))
	require.NoError(t, err)
	return user, pair
}

func TestAuthService_RefreshRotates(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	_, first := verifiedSession(t, env, "rotate@example.test")

	second, err := env.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = env.svc.Refresh(ctx, first.RefreshToken)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "a rotated refresh token is single use")

	_, err = env.svc.Refresh(ctx, second.AccessToken)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "access tokens cannot refresh")

	_, err = env.svc.Authenticate(ctx, second.RefreshToken)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "refresh tokens cannot authenticate")
}

func TestAuthService_LogoutRevokes(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, pair := verifiedSession(t, env, "logout@example.test")

	claims, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, user.ID, claims.ID, claims.ExpiresAt.Time))
	assert.True(t, env.redis.Exists(BlacklistKey(claims.ID)))
	assert.Greater(t, env.redis.TTL(BlacklistKey(claims.ID)), time.Duration(0))

	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "logout drops the refresh token")
}

func TestAuthService_LoginDisabledAccount(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	user, _ := verifiedSession(t, env, "disabled@example.test")
	_, err := env.users.UpdateProfile(ctx, user.ID, map[string]interface{}{"is_active": false})
	require.NoError(t, err)

	_, _, err = env.svc.Login(ctx, user.Email, "sokoni123")
	assert.True(t, models.IsCode(err, models.CodeForbidden))
}
