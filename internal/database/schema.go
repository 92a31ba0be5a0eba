package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"sokoni/internal/config"
	"sokoni/internal/middleware"
	"sokoni/internal/models"

	"gorm.io/gorm"
)

// Schema modes selected by DB_SCHEMA_MODE.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do for the current config and
// what the database holds now.
type SchemaStatus struct {
	Mode               string        `json:"mode"`
	Environment        string        `json:"environment"`
	WillRunSQL         bool          `json:"willRunSql"`
	WillRunAutoMigrate bool          `json:"willRunAutoMigrate"`
	AppliedVersions    []int         `json:"appliedVersions"`
	PendingMigrations  []Migration   `json:"-"`
	Pending            []string      `json:"pendingMigrations"`
	Tables             []TableStatus `json:"tables"`
	Stories            *StoryBacklog `json:"stories,omitempty"`
}

// TableStatus is one schema-managed table. Rows counts soft-deleted rows too.
type TableStatus struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rows   int64  `json:"rows"`
}

// StoryBacklog splits the stories table by lifecycle state. AwaitingSweep
// counts stories that are past expiry but still flagged active.
type StoryBacklog struct {
	Live          int64 `json:"live"`
	AwaitingSweep int64 `json:"awaitingSweep"`
	Inactive      int64 `json:"inactive"`
}

// WriteReport prints the status as aligned text.
func (s *SchemaStatus) WriteReport(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s env=%s run_sql=%t run_auto=%t\n", s.Mode, s.Environment, s.WillRunSQL, s.WillRunAutoMigrate)
	if s.WillRunSQL {
		fmt.Fprintf(&b, "migrations: %d applied, %d pending\n", len(s.AppliedVersions), len(s.PendingMigrations))
		for _, m := range s.PendingMigrations {
			fmt.Fprintf(&b, "  pending %s\n", m)
		}
	}
	for _, t := range s.Tables {
		if !t.Exists {
			fmt.Fprintf(&b, "  %-16s missing\n", t.Name)
			continue
		}
		fmt.Fprintf(&b, "  %-16s %d rows\n", t.Name, t.Rows)
	}
	if s.Stories != nil {
		fmt.Fprintf(&b, "stories: %d live, %d awaiting sweep, %d inactive\n",
			s.Stories.Live, s.Stories.AwaitingSweep, s.Stories.Inactive)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

// schemaPlan is what ApplySchema will do for a config.
type schemaPlan struct {
	mode    string
	env     string
	runSQL  bool
	runAuto bool
}

// planSchema resolves DB_SCHEMA_MODE. Hybrid runs SQL migrations everywhere
// and AutoMigrate only outside production-like environments; auto mode in
// production-like environments needs DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE.
func planSchema(cfg *config.Config) (schemaPlan, error) {
	p := schemaPlan{mode: strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode)), env: cfg.Env}
	if p.mode == "" {
		p.mode = SchemaModeHybrid
	}
	prodLike := isProdLikeEnv(cfg.Env)

	switch p.mode {
	case SchemaModeSQL:
		p.runSQL = true
	case SchemaModeHybrid:
		p.runSQL, p.runAuto = true, !prodLike
	case SchemaModeAuto:
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return p, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		p.runAuto = true
	default:
		return p, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", p.mode)
	}
	return p, nil
}

// AutoMigrate runs GORM AutoMigrate over every persistent model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}

// ApplySchema runs SQL migrations and/or AutoMigrate according to the schema mode.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := planSchema(cfg)
	if err != nil {
		return err
	}

	if plan.runSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if plan.runAuto {
		if plan.mode == SchemaModeAuto && cfg.DBAutoMigrateAllowDestructive {
			middleware.Logger.Warn("auto schema mode with destructive changes allowed", slog.String("env", plan.env))
		}
		middleware.Logger.Info("running AutoMigrate", slog.String("mode", plan.mode), slog.String("env", plan.env))
		if err := AutoMigrate(db.WithContext(ctx)); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// GetSchemaStatus reports the schema plan and, when SQL migrations are in
// play, which embedded migrations are applied or pending.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := planSchema(cfg)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{
		Mode:               plan.mode,
		Environment:        plan.env,
		WillRunSQL:         plan.runSQL,
		WillRunAutoMigrate: plan.runAuto,
	}
	if plan.runSQL {
		m := NewMigrator(db, registered)
		if status.AppliedVersions, err = m.Applied(ctx); err != nil {
			return nil, err
		}
		if status.PendingMigrations, err = m.Pending(ctx); err != nil {
			return nil, err
		}
		for _, mig := range status.PendingMigrations {
			status.Pending = append(status.Pending, mig.String())
		}
	}
	if err := inspectTables(ctx, db, status, time.Now().UTC()); err != nil {
		return nil, err
	}
	return status, nil
}

// inspectTables fills the per-table row counts and the story backlog.
func inspectTables(ctx context.Context, db *gorm.DB, status *SchemaStatus, now time.Time) error {
	db = db.WithContext(ctx)
	for _, model := range PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("parse %T: %w", model, err)
		}
		ts := TableStatus{Name: stmt.Schema.Table, Exists: db.Migrator().HasTable(stmt.Schema.Table)}
		if ts.Exists {
			if err := db.Table(ts.Name).Count(&ts.Rows).Error; err != nil {
				return fmt.Errorf("count %s: %w", ts.Name, err)
			}
		}
		status.Tables = append(status.Tables, ts)
	}

	if !db.Migrator().HasTable(&models.Story{}) {
		return nil
	}
	var backlog StoryBacklog
	stories := func() *gorm.DB { return db.Model(&models.Story{}) }
	if err := stories().Where("is_active = ? AND expires_at > ?", true, now).Count(&backlog.Live).Error; err != nil {
		return fmt.Errorf("count live stories: %w", err)
	}
	if err := stories().Where("is_active = ? AND expires_at <= ?", true, now).Count(&backlog.AwaitingSweep).Error; err != nil {
		return fmt.Errorf("count expired stories: %w", err)
	}
	if err := stories().Where("is_active = ?", false).Count(&backlog.Inactive).Error; err != nil {
		return fmt.Errorf("count inactive stories: %w", err)
	}
	status.Stories = &backlog
	return nil
}
