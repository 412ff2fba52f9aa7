// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestDialectOf(t *testing.T) {
	tests := []struct {
		url  string
		want Dialect
	}{
		{"postgres://u:p@localhost:5432/db", DialectPostgres},
		{"postgresql://localhost/db", DialectPostgres},
		{"pgx5://localhost/db", DialectPostgres},
		{"sqlite:///var/lib/gatehouse.db", DialectSQLite},
		{"sqlite3://gatehouse.db", DialectSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DialectOf(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"mysql://localhost/db", "gatehouse.db"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := DialectOf(bad)
			errutil.AssertErrorCode(t, err, "MIGRATION_UNKNOWN_DIALECT")
		})
	}
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://localhost/db", migrateURL(DialectPostgres, "postgres://localhost/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL(DialectPostgres, "postgresql://localhost/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL(DialectPostgres, "pgx5://localhost/db"))
	assert.Equal(t, "sqlite://gatehouse.db", migrateURL(DialectSQLite, "sqlite3://gatehouse.db"))
	assert.Equal(t, "sqlite:///tmp/g.db", migrateURL(DialectSQLite, "sqlite:///tmp/g.db"))
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("invalid://url")
	errutil.AssertErrorCode(t, err, "MIGRATION_UNKNOWN_DIALECT")
}

// postgresql:// must be rewritten to pgx5:// before golang-migrate sees it.
func TestNewMigrator_PostgresqlScheme(t *testing.T) {
	_, err := NewMigrator("postgresql://localhost:1/testdb?connect_timeout=1")
	require.Error(t, err, "should fail due to connection, not URL scheme")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestNewMigrator_SQLiteFullCycle(t *testing.T) {
	m, err := NewMigrator(SQLiteURL(t.TempDir() + "/migrate.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, m.Close()) }()

	assert.Equal(t, DialectSQLite, m.Dialect())

	pending, err := m.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3, 4}, pending)

	require.NoError(t, m.Up())
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(4), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(), "second Up is a no-op")

	require.NoError(t, m.Steps(-1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)

	require.NoError(t, m.Down())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(_ int) error            { return m.forceErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestMigrator_ErrNoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &mockMigrate{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down())
	assert.NoError(t, m.Steps(2))
}

func TestMigrator_Errors(t *testing.T) {
	boom := errors.New("database locked")
	m := &Migrator{m: &mockMigrate{
		upErr:      boom,
		downErr:    boom,
		stepsErr:   boom,
		versionErr: boom,
		forceErr:   boom,
	}}

	errutil.AssertErrorCode(t, m.Up(), "MIGRATION_UP_FAILED")
	errutil.AssertErrorCode(t, m.Down(), "MIGRATION_DOWN_FAILED")
	err := m.Steps(-1)
	errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
	errutil.AssertErrorContext(t, err, "steps", -1)
	_, _, err = m.Version()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	errutil.AssertErrorCode(t, m.Force(2), "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Version(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionVal: 3, dirty: true}}
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.True(t, dirty)

	m = &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestMigrator_Force_NegativeVersionRejected(t *testing.T) {
	m := &Migrator{m: &mockMigrate{}}
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
	assert.NoError(t, m.Force(0))
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		mock      *mockMigrate
		component string
	}{
		{"success", &mockMigrate{}, ""},
		{"source error", &mockMigrate{closeSourceErr: errors.New("source close failed")}, "source"},
		{"database error", &mockMigrate{closeDbErr: errors.New("db close failed")}, "database"},
		{"both errors", &mockMigrate{
			closeSourceErr: errors.New("source close failed"),
			closeDbErr:     errors.New("db close failed"),
		}, "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.mock}).Close()
			if tt.component == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		t.Run(string(dialect), func(t *testing.T) {
			m := &Migrator{m: &mockMigrate{versionVal: 2}, dialect: dialect}
			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, []uint{3, 4}, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, []uint{1, 2}, applied)
		})
	}

	t.Run("fresh database", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		pending, err := m.PendingMigrations()
		require.NoError(t, err)
		assert.Equal(t, []uint{1, 2, 3, 4}, pending)

		applied, err := m.AppliedMigrations()
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	t.Run("version error carries operation", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
		_, err := m.PendingMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get pending migrations")
		_, err = m.AppliedMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
	})
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(DialectPostgres, 1)
	require.NoError(t, err)
	assert.Equal(t, "000001_users", name)

	name, err = MigrationName(DialectSQLite, 4)
	require.NoError(t, err)
	assert.Equal(t, "000004_audit_log", name)

	name, err = MigrationName(DialectPostgres, 99999)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	versions1, err := allMigrationVersions(DialectPostgres)
	require.NoError(t, err)
	require.NotEmpty(t, versions1)
	versions1[0] = 9999

	versions2, err := allMigrationVersions(DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, uint(1), versions2[0])
}
