package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testMigrationFS() fstest.MapFS {
	fsys := fstest.MapFS{}
	add := func(name, body string) {
		fsys["sql/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	add("000001_schools.up.sql", "CREATE TABLE schools (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	add("000001_schools.down.sql", "DROP TABLE schools")
	add("000002_school_coins.up.sql", "ALTER TABLE schools ADD COLUMN coins INTEGER NOT NULL DEFAULT 0")
	add("000002_school_coins.down.sql", "ALTER TABLE schools DROP COLUMN coins")
	add("README.md", "ignored")
	return fsys
}

func openMigrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestLoadMigrations(t *testing.T) {
	set, err := LoadMigrations(testMigrationFS(), "sql")
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "000001_schools", set[0].String())
	assert.Equal(t, "000002_school_coins", set[1].String())
	assert.NotEqual(t, set[0].Checksum, set[1].Checksum)
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		fs      fstest.MapFS
		wantMsg string
	}{
		{
			name:    "bad name",
			fs:      fstest.MapFS{"sql/init.up.sql": {Data: []byte("SELECT 1")}},
			wantMsg: "expected <version>_<name>.up.sql",
		},
		{
			name: "duplicate version",
			fs: fstest.MapFS{
				"sql/000003_a.up.sql":   {Data: []byte("SELECT 1")},
				"sql/000003_a.down.sql": {Data: []byte("SELECT 1")},
				"sql/3_b.up.sql":        {Data: []byte("SELECT 1")},
				"sql/3_b.down.sql":      {Data: []byte("SELECT 1")},
			},
			wantMsg: "used by both",
		},
		{
			name:    "missing down",
			fs:      fstest.MapFS{"sql/000004_blogs.up.sql": {Data: []byte("SELECT 1")}},
			wantMsg: "has no down script",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMigrations(tt.fs, "sql")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := openMigrationDB(t)
	set, err := LoadMigrations(testMigrationFS(), "sql")
	require.NoError(t, err)
	m := NewMigrator(db, set)
	ctx := context.Background()

	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, ran, 2)

	ran, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran)

	logs, err := m.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, set[1].Checksum, logs[1].Checksum)

	require.NoError(t, db.Exec("INSERT INTO schools (id, name, coins) VALUES (1, 'North Ridge', 99)").Error)
}

func TestMigrator_DownOnlyRevertsLatest(t *testing.T) {
	db := openMigrationDB(t)
	set, err := LoadMigrations(testMigrationFS(), "sql")
	require.NoError(t, err)
	m := NewMigrator(db, set)
	ctx := context.Background()

	_, err = m.Down(ctx, 0)
	assert.ErrorContains(t, err, "no migrations have been applied")

	_, err = m.Up(ctx)
	require.NoError(t, err)

	_, err = m.Down(ctx, 1)
	assert.ErrorContains(t, err, "not the latest applied")

	reverted, err := m.Down(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, reverted.Version)

	logs, err := m.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Len(t, m.Pending(logs), 1)
}

func TestMigrator_Verify(t *testing.T) {
	set, err := LoadMigrations(testMigrationFS(), "sql")
	require.NoError(t, err)
	m := NewMigrator(nil, set)

	assert.NoError(t, m.Verify(nil))
	assert.NoError(t, m.Verify([]MigrationLog{{Version: 1, Checksum: set[0].Checksum}, {Version: 2}}))

	err = m.Verify([]MigrationLog{{Version: 1}, {Version: 7}, {Version: 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000003, 000007")

	err = m.Verify([]MigrationLog{{Version: 2, Checksum: "deadbeef"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000002_school_coins")
}

func TestMigrator_AppliedWithoutLogTable(t *testing.T) {
	m := NewMigrator(openMigrationDB(t), nil)
	logs, err := m.Applied(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs)
}
