package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/castwatch/buzz-tender/backend/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// CleanupSession removes all rows belonging to a moderation session.
func CleanupSession(t *testing.T, database *sql.DB, sessionID string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = database.ExecContext(ctx, `DELETE FROM reply_records WHERE session_id=$1`, sessionID)
		_, _ = database.ExecContext(ctx, `DELETE FROM buzz_items WHERE session_id=$1`, sessionID)
		_, _ = database.ExecContext(ctx, `DELETE FROM stream_sessions WHERE session_id=$1`, sessionID)
	})
}
