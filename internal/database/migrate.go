package database

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"

	"sokoni/internal/middleware"
)

// Migration is one versioned pair of up/down SQL scripts.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var migrationFileRe = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// registered is the embedded migration set. A malformed embedded set is a
// build defect, so loading it panics.
var registered = func() []Migration {
	ms, err := LoadMigrations(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return ms
}()

// LoadMigrations reads NNNNNN_name.up.sql / NNNNNN_name.down.sql pairs from
// dir in fsys. Every version needs both halves under the same name.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(entry.Name())
		if match == nil {
			middleware.Logger.Warn("skipping file with unexpected migration name", slog.String("file", entry.Name()))
			continue
		}
		version, _ := strconv.Atoi(match[1])
		name, direction := match[2], match[3]

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %06d has conflicting names %q and %q", version, m.Name, name)
		}
		if direction == "up" {
			m.UpScript = string(body)
		} else {
			m.DownScript = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		switch {
		case m.UpScript == "":
			return nil, fmt.Errorf("migration %s has no up script", m)
		case m.DownScript == "":
			return nil, fmt.Errorf("migration %s has no down script", m)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return append([]Migration(nil), registered...)
}

// GetMigrationByVersion returns the embedded migration with version, or nil.
func GetMigrationByVersion(version int) *Migration {
	return findMigration(registered, version)
}

func findMigration(ms []Migration, version int) *Migration {
	i := sort.Search(len(ms), func(i int) bool { return ms[i].Version >= version })
	if i < len(ms) && ms[i].Version == version {
		m := ms[i]
		return &m
	}
	return nil
}
