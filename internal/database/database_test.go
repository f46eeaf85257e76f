package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, dialect, err := Open(DriverSQLite, memoryDSN())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, dialect))
	require.NoError(t, Migrate(ctx, db, dialect))

	var count int
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('jobs', 'accounts', 'financial_events', 'plans')`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 4, count)
}

func TestIsDuplicateKey(t *testing.T) {
	db, dialect, err := Open(DriverSQLite, memoryDSN())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, dialect))

	const insert = `INSERT INTO financial_events (provider, event_id, user_id, kind, purchased, occurred_at, created_at)
VALUES ('lemonsqueezy', 'evt-1', 'u1', 'purchase', 1, '2025-01-01 00:00:00', '2025-01-01 00:00:00')`
	_, err = db.ExecContext(ctx, insert)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert)
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	assert.True(t, IsDuplicateKey(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1062})))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
}

func TestDialectInsertIgnore(t *testing.T) {
	assert.Equal(t, "INSERT IGNORE", Dialect{Driver: DriverMySQL}.InsertIgnore())
	assert.Equal(t, "INSERT OR IGNORE", Dialect{Driver: DriverSQLite}.InsertIgnore())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, _, err := Open("oracle", "dsn")
	require.Error(t, err)
}
