package bootstrap

import (
	"testing"

	"sokoni/internal/config"
	"sokoni/internal/models"
	"sokoni/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestEnsureDevAdmin(t *testing.T) {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{Env: "development", DevBootstrapAdmin: true, DevAdminEmail: "Root@Sokoni.local", DevAdminPassword: "adminpass1"}

	require.NoError(t, EnsureDevAdmin(cfg, db))
	require.NoError(t, EnsureDevAdmin(cfg, db), "second run promotes the existing row")

	var admins []models.User
	require.NoError(t, db.Where("email = ?", "root@sokoni.local").Find(&admins).Error)
	require.Len(t, admins, 1)
	assert.Equal(t, models.RoleAdmin, admins[0].Role)
	assert.True(t, admins[0].IsVerified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admins[0].Password), []byte("adminpass1")))
}

func TestEnsureDevAdmin_Skipped(t *testing.T) {
	db := testutil.NewTestDB(t)

	require.NoError(t, EnsureDevAdmin(&config.Config{Env: "production", DevBootstrapAdmin: true}, db))
	require.NoError(t, EnsureDevAdmin(&config.Config{Env: "development"}, db))
	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	assert.Zero(t, n)

	assert.Error(t, EnsureDevAdmin(&config.Config{Env: "development", DevBootstrapAdmin: true}, db))
}
