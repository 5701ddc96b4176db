package storage_test

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/romcoding/architex/internal/storage"
)

func openMigrationDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testMigrations = fstest.MapFS{
	"001_widgets.up.sql":   {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
	"001_widgets.down.sql": {Data: []byte(`DROP TABLE widgets;`)},
	"002_gadgets.up.sql":   {Data: []byte(`CREATE TABLE gadgets (id TEXT PRIMARY KEY);`)},
	"002_gadgets.down.sql": {Data: []byte(`DROP TABLE gadgets;`)},
	"README.md":            {Data: []byte(`ignored`)},
	"xyz_bad.up.sql":       {Data: []byte(`ignored`)},
}

func TestMigrationManager_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openMigrationDB(t)

	mgr, err := storage.NewMigrationManager(db, testMigrations, storage.PlaceholderQuestion)
	require.NoError(t, err)

	_, err = mgr.Version(ctx)
	assert.ErrorIs(t, err, storage.ErrNoMigration)

	applied, err := mgr.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	version, err := mgr.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	applied, err = mgr.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	_, err = db.Exec(`INSERT INTO gadgets (id) VALUES ('g1')`)
	assert.NoError(t, err)
}

func TestMigrationManager_Down(t *testing.T) {
	ctx := context.Background()
	db := openMigrationDB(t)

	mgr, err := storage.NewMigrationManager(db, testMigrations, storage.PlaceholderQuestion)
	require.NoError(t, err)
	_, err = mgr.Up(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Down(ctx))

	_, err = mgr.Version(ctx)
	assert.ErrorIs(t, err, storage.ErrNoMigration)

	_, err = db.Exec(`INSERT INTO widgets (id) VALUES ('w1')`)
	assert.Error(t, err, "widgets table should be dropped")
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openMigrationDB(t)

	broken := fstest.MapFS{
		"001_ok.up.sql":     {Data: []byte(`CREATE TABLE ok (id TEXT);`)},
		"002_broken.up.sql": {Data: []byte(`CREATE TABLE nope (id TEXT); THIS IS NOT SQL;`)},
	}
	mgr, err := storage.NewMigrationManager(db, broken, storage.PlaceholderQuestion)
	require.NoError(t, err)

	applied, err := mgr.Up(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, applied)

	version, err := mgr.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestNewMigrationManager_RequiresDB(t *testing.T) {
	_, err := storage.NewMigrationManager(nil, testMigrations, "")
	assert.Error(t, err)
}
