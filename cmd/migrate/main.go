// Command migrate inspects and changes the marketplace schema.
//
//	migrate [-dry-run] up           apply pending SQL migrations
//	migrate auto                    run AutoMigrate over every model
//	migrate [-json] status          report migrations, table sizes and the story backlog
//	migrate [-dry-run] down [ver]   roll back ver, or the newest applied migration
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"sokoni/internal/config"
	"sokoni/internal/database"
	"sokoni/internal/middleware"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate [-json] [-dry-run] <up|auto|status|down> [version]")

func main() {
	asJSON := flag.Bool("json", false, "print status as JSON")
	dryRun := flag.Bool("dry-run", false, "show what up or down would do without changing the schema")
	flag.Parse()

	if err := run(context.Background(), flag.Args(), *asJSON, *dryRun); err != nil {
		middleware.Logger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, asJSON, dryRun bool) error {
	if len(args) < 1 {
		return errUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "up":
		if dryRun {
			pending, err := database.NewMigrator(db, database.GetMigrations()).Pending(ctx)
			if err != nil {
				return err
			}
			for _, m := range pending {
				middleware.Logger.Info("would apply", slog.String("migration", m.String()))
			}
			middleware.Logger.Info("dry run", slog.Int("pending", len(pending)))
			return nil
		}
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		middleware.Logger.Info("sql migrations applied")

	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		middleware.Logger.Info("automigrations applied")

	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		return status.WriteReport(os.Stdout)

	case "down":
		version, err := rollbackTarget(ctx, db, args[1:])
		if err != nil {
			return err
		}
		m := database.GetMigrationByVersion(version)
		if m == nil {
			return fmt.Errorf("migration %06d is not part of this build", version)
		}
		if dryRun {
			middleware.Logger.Info("would roll back", slog.String("migration", m.String()))
			return nil
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		middleware.Logger.Info("rolled back", slog.String("migration", m.String()))

	default:
		return errUsage
	}
	return nil
}

// rollbackTarget reads the version argument, defaulting to the newest applied
// migration.
func rollbackTarget(ctx context.Context, db *gorm.DB, rest []string) (int, error) {
	if len(rest) > 0 {
		version, err := strconv.Atoi(rest[0])
		if err != nil {
			return 0, fmt.Errorf("invalid version %q: %w", rest[0], err)
		}
		return version, nil
	}
	return database.NewMigrator(db, database.GetMigrations()).Newest(ctx)
}
