package buzz

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/castwatch/buzz-tender/backend/generation"
)

// Status is the lifecycle state of a buzz item.
type Status string

const (
	StatusFound      Status = "FOUND"      // enqueued by ingestion, awaiting a response
	StatusProcessing Status = "PROCESSING" // claimed by a response pass
	StatusActive     Status = "ACTIVE"     // surfaced to the moderator (at most one per session)
	StatusInactive   Status = "INACTIVE"   // dismissed or superseded
)

// Item is one actionable audience chat message.
type Item struct {
	ID           int64
	SessionID    string
	Kind         generation.Kind
	OriginalText string
	Author       string
	Response     string // empty until generation succeeds
	Status       Status
	CreatedAt    time.Time
}

// Display renders the item for the moderator: the original message, who sent
// it, and the drafted reply.
func (it Item) Display() string {
	author := it.Author
	if author == "" {
		author = "someone"
	}
	s := fmt.Sprintf("[%s] %s: %s", it.Kind, author, it.OriginalText)
	if it.Response != "" {
		s += "\nSuggested reply: " + it.Response
	}
	return s
}

// insertFound enqueues a new item in FOUND state.
func insertFound(ctx context.Context, db *sql.DB, sessionID string, kind generation.Kind, text, author string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO buzz_items (session_id, kind, original_text, author, status, created_at)
		 VALUES ($1,$2,$3,$4,'FOUND',NOW())`,
		sessionID, string(kind), text, author)
	if err != nil {
		return fmt.Errorf("insert buzz item: %w", err)
	}
	return nil
}

// claimFound moves every FOUND item of still-active sessions to PROCESSING in
// one conditional update and returns them oldest-first. The batched claim is
// the sole legal entry point for taking generation work, so two overlapping
// passes never double-process an item.
func claimFound(ctx context.Context, db *sql.DB) ([]Item, error) {
	rows, err := db.QueryContext(ctx,
		`UPDATE buzz_items b SET status='PROCESSING', updated_at=NOW()
		 WHERE b.status='FOUND'
		   AND EXISTS (SELECT 1 FROM stream_sessions s WHERE s.session_id=b.session_id AND s.is_active)
		 RETURNING b.id, b.session_id, b.kind, b.original_text, COALESCE(b.author,''), COALESCE(b.response,''), b.created_at`)
	if err != nil {
		return nil, fmt.Errorf("claim found items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it := Item{Status: StatusProcessing}
		var kind string
		if err := rows.Scan(&it.ID, &it.SessionID, &kind, &it.OriginalText, &it.Author, &it.Response, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Kind = generation.ParseKind(kind)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// storeResponse records the drafted reply on a still-claimed item.
func storeResponse(ctx context.Context, db *sql.DB, id int64, response string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE buzz_items SET response=$1, updated_at=NOW() WHERE id=$2 AND status='PROCESSING'`,
		response, id)
	return err
}

// promote moves a claimed item to ACTIVE iff its session has no ACTIVE item.
// Returns whether this item won the slot.
func promote(ctx context.Context, db *sql.DB, id int64, sessionID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE buzz_items SET status='ACTIVE', updated_at=NOW()
		 WHERE id=$1 AND status='PROCESSING'
		   AND NOT EXISTS (SELECT 1 FROM buzz_items WHERE session_id=$2 AND status='ACTIVE')`,
		id, sessionID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// revertToFound returns a claimed item to FOUND. countAttempt records a failed
// generation; reverts that merely lost the ACTIVE race keep their response and
// do not count. The revert runs detached from cancellation so a shutdown
// mid-pass cannot strand the item in PROCESSING.
func revertToFound(ctx context.Context, db *sql.DB, id int64, countAttempt bool) error {
	q := `UPDATE buzz_items SET status='FOUND', updated_at=NOW() WHERE id=$1 AND status='PROCESSING'`
	if countAttempt {
		q = `UPDATE buzz_items SET status='FOUND', generation_attempts=COALESCE(generation_attempts,0)+1, updated_at=NOW()
		     WHERE id=$1 AND status='PROCESSING'`
	}
	_, err := db.ExecContext(context.WithoutCancel(ctx), q, id)
	return err
}

// requeueStaleClaims returns PROCESSING items whose claimant never resolved
// them (a crashed worker) to FOUND. In-flight claims resolve within one
// generation timeout, so anything older than the threshold is orphaned.
func requeueStaleClaims(ctx context.Context, db *sql.DB) error {
	res, err := db.ExecContext(ctx,
		`UPDATE buzz_items SET status='FOUND', updated_at=NOW()
		 WHERE status='PROCESSING'
		   AND EXTRACT(EPOCH FROM (NOW() - COALESCE(updated_at, created_at))) >= $1`,
		int(staleClaimAfter.Seconds()))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("requeued stale buzz claims", slog.Int64("items", n), slog.String("component", "respond"))
	}
	return nil
}

// activeItem returns the session's ACTIVE item, or ok=false when none exists.
func activeItem(ctx context.Context, db *sql.DB, sessionID string) (Item, bool, error) {
	it := Item{Status: StatusActive}
	var kind string
	err := db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, original_text, COALESCE(author,''), COALESCE(response,''), created_at
		 FROM buzz_items WHERE session_id=$1 AND status='ACTIVE'
		 ORDER BY created_at, id LIMIT 1`, sessionID).
		Scan(&it.ID, &it.SessionID, &kind, &it.OriginalText, &it.Author, &it.Response, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("load active item: %w", err)
	}
	it.Kind = generation.ParseKind(kind)
	return it, true, nil
}

// foundQueueDepth counts FOUND items across all sessions (metrics).
func foundQueueDepth(ctx context.Context, db *sql.DB) int {
	var n int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM buzz_items WHERE status='FOUND'`).Scan(&n)
	return n
}
