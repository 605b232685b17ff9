package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644))
}

func TestLoadMigrationsSortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_add_index.sql", "CREATE INDEX idx ON t(a);")
	writeMigration(t, dir, "001_reasoning_store.sql", "CREATE TABLE t(a int);")
	writeMigration(t, dir, "010_later_change.sql", "ALTER TABLE t ADD b int;")

	m := NewMigrator(nil, dir)
	migrations, err := m.loadMigrations()
	require.NoError(t, err)

	require.Len(t, migrations, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	assert.Equal(t, "reasoning store", migrations[0].Description)
	assert.Equal(t, "CREATE TABLE t(a int);", migrations[0].SQL)
}

func TestLoadMigrationsSkipsDownAndNonSQL(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_schema.sql", "CREATE TABLE t(a int);")
	writeMigration(t, dir, "001_schema_down.sql", "DROP TABLE t;")
	writeMigration(t, dir, "README.md", "notes")

	m := NewMigrator(nil, dir)
	migrations, err := m.loadMigrations()
	require.NoError(t, err)

	require.Len(t, migrations, 1)
	assert.Equal(t, "001_schema.sql", migrations[0].Filename)
}

func TestLoadMigrationsRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "schema.sql", "CREATE TABLE t(a int);")

	m := NewMigrator(nil, dir)
	_, err := m.loadMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "missing"))
	_, err := m.loadMigrations()
	require.Error(t, err)
}
