package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"sokoni/internal/middleware"

	"gorm.io/gorm"
)

// MigrationLog is one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (MigrationLog) TableName() string {
	return "migration_logs"
}

// Migrator applies a fixed, version-ordered migration set and records each
// applied version in migration_logs.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator returns a Migrator over migrations, which must be sorted by
// version.
func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

// Applied returns applied versions in ascending order. A missing log table
// means nothing has been applied.
func (m *Migrator) Applied(ctx context.Context) ([]int, error) {
	db := m.db.WithContext(ctx)
	if !db.Migrator().HasTable(&MigrationLog{}) {
		return nil, nil
	}
	var versions []int
	if err := db.Model(&MigrationLog{}).Order("version ASC").Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("read migration log: %w", err)
	}
	return versions, nil
}

// Newest returns the highest applied version.
func (m *Migrator) Newest(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	if len(applied) == 0 {
		return 0, fmt.Errorf("no migrations have been applied")
	}
	return applied[len(applied)-1], nil
}

// Pending returns migrations not yet applied. It fails when the log holds
// versions this build does not know, which means the database is ahead of
// the code.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkKnown(applied, m.migrations); err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !slices.Contains(applied, mig.Version) {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return 0, fmt.Errorf("ensure migration log: %w", err)
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}

	for i, mig := range pending {
		middleware.Logger.Info("applying migration", slog.String("migration", mig.String()))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.UpScript).Error; err != nil {
				return fmt.Errorf("apply %s: %w", mig, err)
			}
			return tx.Create(&MigrationLog{Version: mig.Version, Name: mig.Name}).Error
		})
		if err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Down reverts version, which must be the newest applied migration.
func (m *Migrator) Down(ctx context.Context, version int) error {
	mig := findMigration(m.migrations, version)
	if mig == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(applied, version) {
		return fmt.Errorf("migration %s has not been applied", mig)
	}
	if newest := applied[len(applied)-1]; newest != version {
		return fmt.Errorf("migration %s is not the newest applied (%06d); roll back in order", mig, newest)
	}

	middleware.Logger.Info("rolling back migration", slog.String("migration", mig.String()))
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(mig.DownScript).Error; err != nil {
			return fmt.Errorf("roll back %s: %w", mig, err)
		}
		return tx.Where("version = ?", version).Delete(&MigrationLog{}).Error
	})
}

func checkKnown(applied []int, known []Migration) error {
	var unknown []string
	for _, v := range applied {
		if findMigration(known, v) == nil {
			unknown = append(unknown, fmt.Sprintf("%06d", v))
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return fmt.Errorf("migration_logs contains versions unknown to this build: %s", strings.Join(unknown, ", "))
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	n, err := NewMigrator(db, registered).Up(ctx)
	if err != nil {
		return err
	}
	middleware.Logger.Info("sql migrations complete", slog.Int("applied", n))
	return nil
}

// RollbackMigration reverts the newest embedded migration, identified by
// version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	return NewMigrator(db, registered).Down(ctx, version)
}
