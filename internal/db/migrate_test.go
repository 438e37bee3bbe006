package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "001_init.sql", migrations[0].Filename)
	assert.Len(t, migrations[0].Checksum, 64)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE action_receipts")
}

func TestDiscoverMigrations_SortsAndSkipsNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_payments.sql": {Data: []byte("SELECT 2;")},
		"m/001_init.sql":     {Data: []byte("SELECT 1;")},
		"m/README.md":        {Data: []byte("notes")},
	}
	migrations, err := discoverMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_init.sql", migrations[0].Filename)
	assert.Equal(t, "002", migrations[1].Version)
}

func TestDiscoverMigrations_Rejects(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"duplicate version": {
			"m/001_init.sql":  {Data: []byte("SELECT 1;")},
			"m/001_other.sql": {Data: []byte("SELECT 2;")},
		},
		"no version prefix": {
			"m/init.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := discoverMigrations(fsys, "m")
			assert.Error(t, err)
		})
	}
}
