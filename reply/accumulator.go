// Package reply accumulates moderator reply notes and flushes them to the
// platform chat in periodic batches. Notes are stored per (session,
// chat channel) group; the write job summarizes each group into a single
// message before posting so the bot speaks once instead of spamming.
package reply

import (
	"context"
	"database/sql"
	"fmt"
)

// Write states of a reply record.
const (
	StateNotWritten = "NOT_WRITTEN" // stored, waiting for a write tick
	StatePending    = "PENDING"     // claimed by an in-flight write tick
	StateWritten    = "WRITTEN"     // posted (or resolved by session teardown)
	StateFailed     = "FAILED"      // retry bound exhausted; needs operator attention
)

// Accumulator stores reply notes for later batched posting.
type Accumulator struct {
	DB *sql.DB
}

// Store inserts a NOT_WRITTEN record. Notes are never merged at store time;
// grouping happens when the write job claims a batch.
func (a *Accumulator) Store(ctx context.Context, sessionID, chatChannelID, text string) error {
	if text == "" {
		return fmt.Errorf("empty reply text")
	}
	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO reply_records (session_id, chat_channel_id, text, write_state, created_at)
		 VALUES ($1,$2,$3,'NOT_WRITTEN',NOW())`,
		sessionID, chatChannelID, text)
	if err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	return nil
}

// PendingCount reports how many records are waiting to be written, across all
// sessions. Used by the status endpoint.
func (a *Accumulator) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := a.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reply_records WHERE write_state IN ('NOT_WRITTEN','PENDING')`).Scan(&n)
	return n, err
}
