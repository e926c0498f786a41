package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls      []string
	steps      int
	err        error
	version    uint
	versionErr error
}

func (f *fakeMigrator) Up() error   { f.calls = append(f.calls, "up"); return f.err }
func (f *fakeMigrator) Down() error { f.calls = append(f.calls, "down"); return f.err }
func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return f.err
}
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, false, f.versionErr }

func TestRunAction(t *testing.T) {
	t.Run("up all", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runAction(m, "up", 0))
		assert.Equal(t, []string{"up"}, m.calls)
	})

	t.Run("down with steps", func(t *testing.T) {
		m := &fakeMigrator{}
		require.NoError(t, runAction(m, "down", 2))
		assert.Equal(t, -2, m.steps)
	})

	t.Run("no change is success", func(t *testing.T) {
		m := &fakeMigrator{err: migrate.ErrNoChange}
		assert.NoError(t, runAction(m, "up", 0))
	})

	t.Run("failure propagates", func(t *testing.T) {
		m := &fakeMigrator{err: errors.New("dirty database")}
		assert.Error(t, runAction(m, "up", 0))
	})

	t.Run("status before any migration", func(t *testing.T) {
		m := &fakeMigrator{versionErr: migrate.ErrNilVersion}
		assert.NoError(t, runAction(m, "status", 0))
	})

	t.Run("unknown action", func(t *testing.T) {
		assert.Error(t, runAction(&fakeMigrator{}, "sideways", 0))
	})
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_dnc_schema.up.sql"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_dnc_schema.down.sql"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "embed.go"), nil, 0o644))

	up, down, err := createMigration(dir, "Add Client Index")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "000002_add_client_index.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "000002_add_client_index.down.sql"), down)
	assert.FileExists(t, up)
	assert.FileExists(t, down)

	_, _, err = createMigration(dir, "  !! ")
	assert.Error(t, err)
}

func TestMigrationsDirectoryExists(t *testing.T) {
	info, err := os.Stat(filepath.Join("..", "..", migrationsDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
