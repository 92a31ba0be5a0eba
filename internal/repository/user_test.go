package repository

import (
	"context"
	"testing"
	"time"

	"sokoni/internal/cache"
	"sokoni/internal/models"
	"sokoni/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &models.User{Name: "Amina", Email: "amina@example.test", Password: "h", Role: models.RoleCustomer}
	require.NoError(t, repo.Create(ctx, u))

	dup := &models.User{Name: "Other", Email: "amina@example.test", Password: "h", Role: models.RoleCustomer}
	err := repo.Create(ctx, dup)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	got, err := repo.GetByEmail(ctx, "amina@example.test")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetByEmail(ctx, "nobody@example.test")
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestUserRepository_OTPAndVerification(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := &models.User{Name: "Baraka", Email: "baraka@example.test", Password: "h", Role: models.RoleCustomer}
	require.NoError(t, repo.Create(ctx, u))

	exp := time.Now().UTC().Add(10 * time.Minute)
	require.NoError(t, repo.SetOTP(ctx, u.ID, "otp-hash", exp))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "otp-hash", got.OTPHash)
	require.NotNil(t, got.OTPExpiresAt)

	require.NoError(t, repo.MarkVerified(ctx, u.ID))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.Empty(t, got.OTPHash)
	assert.Nil(t, got.OTPExpiresAt)

	require.NoError(t, repo.SetRefreshTokenHash(ctx, u.ID, "rt"))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt", got.RefreshTokenHash)

	assert.True(t, models.IsCode(repo.MarkVerified(ctx, 999), models.CodeNotFound))
}

func TestUserRepository_SummaryCacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.SetClient(nil) })

	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, models.RoleRetailer)

	s, err := repo.GetSummary(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Name, s.Name)
	assert.True(t, mr.Exists(cache.UserKey(u.ID)))

	updated, err := repo.UpdateProfile(ctx, u.ID, map[string]interface{}{"bio": "Fresh mangoes daily"})
	require.NoError(t, err)
	assert.Equal(t, "Fresh mangoes daily", updated.Bio)
	assert.False(t, mr.Exists(cache.UserKey(u.ID)))

	require.NoError(t, repo.UpdateRole(ctx, u.ID, models.RoleWholesaler))
	s, err = repo.GetSummary(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleWholesaler, s.Role)
}
