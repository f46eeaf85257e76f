package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PhotoForge/internal/database"
	"github.com/digkill/PhotoForge/internal/models"
)

func newTestDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, dialect, err := database.Open(database.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, dialect))
	return db, dialect
}

func testTime(offset time.Duration) time.Time {
	return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC).Add(offset)
}

func newPendingJob(userID string) *models.Job {
	return &models.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  "replicate",
		SourceURL: "https://uploads.example.com/in.jpg",
		Style:     "studio",
		Module:    "retouch",
		Prompt:    "soft light",
		CreatedAt: testTime(0),
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
