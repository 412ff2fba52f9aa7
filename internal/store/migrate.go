// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 and sqlite database drivers for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect selects the SQL flavour of a migration set.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) dir() string {
	if d == DialectSQLite {
		return path.Join("migrations", string(DialectSQLite))
	}
	return path.Join("migrations", string(DialectPostgres))
}

// Cached migration versions per dialect. The embedded FS is immutable.
var (
	cachedVersionsOnce sync.Once
	cachedVersions     map[Dialect][]uint
	cachedVersionsErr  error
)

// migrateIface abstracts golang-migrate for testing. The real golang-migrate
// library requires a database connection, making unit tests slow and brittle.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator wraps golang-migrate for database schema management.
type Migrator struct {
	m       migrateIface
	dialect Dialect
}

// DialectOf reports which dialect a database URL addresses.
func DialectOf(databaseURL string) (Dialect, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", oops.Code("MIGRATION_UNKNOWN_DIALECT").With("url_scheme", "").Errorf("database URL has no scheme")
	}
	switch scheme {
	case "postgres", "postgresql", "pgx5":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", oops.Code("MIGRATION_UNKNOWN_DIALECT").With("url_scheme", scheme).Errorf("unsupported database scheme %q", scheme)
	}
}

// NewMigrator creates a new Migrator instance.
//
// PostgreSQL URLs may use the postgres://, postgresql:// or pgx5:// scheme;
// they are rewritten to pgx5:// for golang-migrate. SQLite URLs use
// sqlite://<path>.
func NewMigrator(databaseURL string) (*Migrator, error) {
	dialect, err := DialectOf(databaseURL)
	if err != nil {
		return nil, oops.With("operation", "detect dialect").Wrap(err)
	}

	source, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dialect, databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // cleanup for embedded FS; init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").
			With("operation", "initialize migrator").
			With("dialect", string(dialect)).
			Wrap(err)
	}

	return &Migrator{m: m, dialect: dialect}, nil
}

func migrateURL(dialect Dialect, databaseURL string) string {
	switch dialect {
	case DialectSQLite:
		if rest, found := strings.CutPrefix(databaseURL, "sqlite3://"); found {
			return "sqlite://" + rest
		}
	case DialectPostgres:
		if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
			return "pgx5://" + rest
		}
		if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Dialect returns the dialect the migrator was opened for.
func (m *Migrator) Dialect() Dialect {
	if m.dialect == "" {
		return DialectPostgres
	}
	return m.dialect
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back all migrations to version 0, dropping every table and its data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps applies n migrations. Positive n migrates up, negative n migrates down.
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current migration version and dirty state.
// Returns version 0 with dirty=false if no migrations have been applied.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations. Use only to
// recover from a dirty state after fixing the database by hand.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases resources.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil && dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	}
	if srcErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// allMigrationVersions returns the sorted migration versions of a dialect.
// The returned slice is a copy of the cache.
func allMigrationVersions(dialect Dialect) ([]uint, error) {
	cachedVersionsOnce.Do(func() {
		cachedVersions = make(map[Dialect][]uint, 2)
		for _, d := range []Dialect{DialectPostgres, DialectSQLite} {
			versions, err := loadMigrationVersions(d)
			if err != nil {
				cachedVersionsErr = err
				return
			}
			cachedVersions[d] = versions
		}
	})
	if cachedVersionsErr != nil {
		return nil, cachedVersionsErr
	}
	cached := cachedVersions[dialect]
	result := make([]uint, len(cached))
	copy(result, cached)
	return result, nil
}

// loadMigrationVersions parses version numbers from the embedded files.
// Malformed file names are logged and skipped; TestMigrationsFS_EmbeddedFiles
// guards the naming pattern.
func loadMigrationVersions(dialect Dialect) ([]uint, error) {
	entries, err := migrationsFS.ReadDir(dialect.dir())
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").
			With("operation", "read migrations dir").
			With("dialect", string(dialect)).
			Wrap(err)
	}

	versionSet := make(map[uint]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			slog.Warn("migration file name doesn't match expected format, skipping",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		versionSet[version] = struct{}{}
	}

	versions := make([]uint, 0, len(versionSet))
	for v := range versionSet {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// MigrationName returns the NNNNNN_name of a migration, or "" if the
// version is unknown. An error means the embedded FS could not be read.
func MigrationName(dialect Dialect, version uint) (string, error) {
	entries, err := migrationsFS.ReadDir(dialect.dir())
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".up.sql") {
			return strings.TrimSuffix(name, ".up.sql"), nil
		}
	}
	return "", nil
}

// PendingMigrations returns the versions Up would apply, ascending.
func (m *Migrator) PendingMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	allVersions, err := allMigrationVersions(m.Dialect())
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	var pending []uint
	for _, v := range allVersions {
		if v > currentVersion {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// AppliedMigrations returns the versions already applied, ascending.
func (m *Migrator) AppliedMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	if currentVersion == 0 {
		return nil, nil
	}

	allVersions, err := allMigrationVersions(m.Dialect())
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	var applied []uint
	for _, v := range allVersions {
		if v <= currentVersion {
			applied = append(applied, v)
		}
	}
	return applied, nil
}
