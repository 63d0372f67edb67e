package database

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUpDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, cleanupFunc := SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	// SetupTestDB already migrated up; cycle down and back up.
	err := MigrateDown(ctx, db)
	require.NoError(t, err)

	err = MigrateUp(ctx, db)
	require.NoError(t, err)

	var count int
	err = db.QueryRow(ctx, "SELECT count(*) FROM sync_queue").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMigrationSteps(t *testing.T) {
	t.Parallel()

	db, cleanupFunc := SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	ctx := context.Background()
	require.NoError(t, MigrateDown(ctx, db))

	connString := db.Config().ConnString()
	m, err := NewFromConnectionString(connString)
	require.NoError(t, err)

	fnames, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)

	for i := 1; i <= len(fnames); i++ {
		err = m.Steps(i)
		assert.NoError(t, err)

		err = m.Steps(-i)
		assert.NoError(t, err)

		err = m.Steps(i)
		assert.NoError(t, err)
	}
}
