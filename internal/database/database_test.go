package database

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"sokoni/internal/config"
	"sokoni/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestDSN_DefaultsSSLMode(t *testing.T) {
	dsn := DSN(&config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "sokoni"})
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "dbname=sokoni")

	dsn = DSN(&config.Config{DBSSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestRegisteredMigrations(t *testing.T) {
	all := GetMigrations()
	require.NotEmpty(t, all)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "000001_init", all[0].String())
	assert.True(t, strings.Contains(all[0].UpScript, "CREATE TABLE IF NOT EXISTS stories"))
	assert.NotEmpty(t, all[0].DownScript)
	assert.NotNil(t, GetMigrationByVersion(1))
	require.Len(t, all, 2)
	assert.Equal(t, "000002_orders_messages", all[1].String())
	assert.Contains(t, all[1].UpScript, "CREATE TABLE IF NOT EXISTS order_items")
	assert.Contains(t, all[1].DownScript, "DROP TABLE IF EXISTS orders")
	assert.Nil(t, GetMigrationByVersion(999999))
}

func TestCheckKnown(t *testing.T) {
	known := []Migration{{Version: 1}, {Version: 2}}
	assert.NoError(t, checkKnown(nil, known))
	assert.NoError(t, checkKnown([]int{1, 2}, known))

	err := checkKnown([]int{1, 7, 3}, known)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000003, 000007")
}

func TestPlanSchema(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.Config
		wantSQL     bool
		wantAuto    bool
		expectError bool
	}{
		{"hybrid dev", config.Config{Env: "development"}, true, true, false},
		{"hybrid prod", config.Config{Env: "production", DBSchemaMode: "hybrid"}, true, false, false},
		{"sql", config.Config{Env: "development", DBSchemaMode: "SQL"}, true, false, false},
		{"auto dev", config.Config{Env: "test", DBSchemaMode: "auto"}, false, true, false},
		{"auto prod refused", config.Config{Env: "production", DBSchemaMode: "auto"}, false, false, true},
		{"auto prod allowed", config.Config{Env: "staging", DBSchemaMode: "auto", DBAutoMigrateAllowDestructive: true}, false, true, false},
		{"unknown", config.Config{DBSchemaMode: "yolo"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := planSchema(&tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, plan.runSQL)
			assert.Equal(t, tt.wantAuto, plan.runAuto)
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000002_add_index.up.sql":   {Data: []byte("CREATE INDEX x ON t (a);")},
		"m/000002_add_index.down.sql": {Data: []byte("DROP INDEX x;")},
		"m/000001_init.up.sql":        {Data: []byte("CREATE TABLE t (a INTEGER);")},
		"m/000001_init.down.sql":      {Data: []byte("DROP TABLE t;")},
		"m/README.md":                 {Data: []byte("ignored")},
	}
	ms, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "000001_init", ms[0].String())
	assert.Equal(t, "add_index", ms[1].Name)

	t.Run("missing down", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{"m/000001_init.up.sql": {Data: []byte("x")}}, "m")
		assert.ErrorContains(t, err, "no down script")
	})
	t.Run("name conflict", func(t *testing.T) {
		_, err := LoadMigrations(fstest.MapFS{
			"m/000001_init.up.sql":    {Data: []byte("x")},
			"m/000001_other.down.sql": {Data: []byte("y")},
		}, "m")
		assert.ErrorContains(t, err, "conflicting names")
	})
}

func TestMigrator_UpDownOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ms, err := LoadMigrations(fstest.MapFS{
		"m/000001_shops.up.sql":       {Data: []byte("CREATE TABLE shops (id INTEGER PRIMARY KEY, name TEXT);")},
		"m/000001_shops.down.sql":     {Data: []byte("DROP TABLE shops;")},
		"m/000002_shop_city.up.sql":   {Data: []byte("ALTER TABLE shops ADD COLUMN city TEXT;")},
		"m/000002_shop_city.down.sql": {Data: []byte("ALTER TABLE shops DROP COLUMN city;")},
	}, "m")
	require.NoError(t, err)

	ctx := context.Background()
	m := NewMigrator(db, ms)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "missing log table means nothing applied")

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, db.Migrator().HasColumn("shops", "city"))

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "up is idempotent")

	newest, err := m.Newest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, newest)
	assert.ErrorContains(t, m.Down(ctx, 1), "not the newest")
	require.NoError(t, m.Down(ctx, 2))
	assert.False(t, db.Migrator().HasColumn("shops", "city"))

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	assert.ErrorContains(t, m.Down(ctx, 2), "has not been applied")
	require.NoError(t, m.Down(ctx, 1))
	_, err = m.Newest(ctx)
	assert.ErrorContains(t, err, "no migrations have been applied")
	_, err = m.Up(ctx)
	require.NoError(t, err)
	assert.ErrorContains(t, NewMigrator(db, ms[1:]).Down(ctx, 1), "not found")

	_, err = NewMigrator(db, ms[1:]).Pending(ctx)
	assert.ErrorContains(t, err, "unknown to this build")
}

func TestApplySchema_AutoModeOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))

	for _, m := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}

	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.False(t, status.WillRunSQL)
	assert.True(t, status.WillRunAutoMigrate)
}

func TestSchemaStatus_TablesAndStoryBacklog(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	status := &SchemaStatus{}
	require.NoError(t, inspectTables(ctx, db, status, time.Now().UTC()))
	require.Len(t, status.Tables, len(PersistentModels()))
	for _, ts := range status.Tables {
		assert.False(t, ts.Exists, ts.Name)
	}
	assert.Nil(t, status.Stories, "no backlog without a stories table")

	require.NoError(t, AutoMigrate(db))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	author := &models.User{Name: "Neema", Email: "neema@example.test", Password: "x"}
	require.NoError(t, db.Create(author).Error)
	for _, st := range []models.Story{
		{IsActive: true, ExpiresAt: now.Add(time.Hour)},
		{IsActive: true, ExpiresAt: now.Add(2 * time.Hour)},
		{IsActive: true, ExpiresAt: now.Add(-time.Minute)},
		{IsActive: false, ExpiresAt: now.Add(-time.Hour)},
	} {
		st.UserID = author.ID
		st.MediaType = models.MediaTypeImage
		st.MediaURL = "/uploads/stories/x.jpg"
		st.DurationMs = 5000
		require.NoError(t, db.Omit(clause.Associations).Create(&st).Error)
	}
	require.NoError(t, db.Model(&models.Story{}).Where("expires_at < ?", now.Add(-30*time.Minute)).Update("is_active", false).Error)

	status = &SchemaStatus{Mode: SchemaModeAuto, Environment: "test", WillRunAutoMigrate: true}
	require.NoError(t, inspectTables(ctx, db, status, now))
	rows := map[string]int64{}
	for _, ts := range status.Tables {
		assert.True(t, ts.Exists, ts.Name)
		rows[ts.Name] = ts.Rows
	}
	assert.Equal(t, int64(1), rows["users"])
	assert.Equal(t, int64(4), rows["stories"])
	assert.Zero(t, rows["orders"])
	require.NotNil(t, status.Stories)
	assert.Equal(t, StoryBacklog{Live: 2, AwaitingSweep: 1, Inactive: 1}, *status.Stories)

	var out strings.Builder
	require.NoError(t, status.WriteReport(&out))
	assert.Contains(t, out.String(), "mode=auto env=test run_sql=false run_auto=true")
	assert.Contains(t, out.String(), "stories: 2 live, 1 awaiting sweep, 1 inactive")
	assert.NotContains(t, out.String(), "migrations:", "sql details only print when sql migrations run")

	raw, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"awaitingSweep":1`)
}

func TestPersistentModels_IncludesStoryLedger(t *testing.T) {
	var sawStory, sawView, sawLike, sawFollow, sawOrder, sawMessage bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *models.Order:
			sawOrder = true
		case *models.Message:
			sawMessage = true
		case *models.Story:
			sawStory = true
		case *models.StoryView:
			sawView = true
		case *models.StoryLike:
			sawLike = true
		case *models.Follow:
			sawFollow = true
		}
	}
	assert.True(t, sawStory && sawView && sawLike && sawFollow)
	assert.True(t, sawOrder && sawMessage)
}
