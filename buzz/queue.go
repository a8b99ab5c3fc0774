package buzz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/castwatch/buzz-tender/backend/reply"
	"github.com/castwatch/buzz-tender/backend/session"
)

// Queue is the moderator-facing view of a session's buzz items: the single
// ACTIVE item, advancing past it, and leaving a reply note on it.
type Queue struct {
	DB       *sql.DB
	Sessions *session.Registry
	Replies  *reply.Accumulator
}

// NewQueue wires a queue over the given collaborators.
func NewQueue(db *sql.DB, sessions *session.Registry, acc *reply.Accumulator) *Queue {
	return &Queue{DB: db, Sessions: sessions, Replies: acc}
}

// Current returns the display text of the session's ACTIVE item, or "" when
// nothing is surfaced yet. Requires an active stream session.
func (q *Queue) Current(ctx context.Context, sessionID string) (string, error) {
	if _, err := q.Sessions.GetActiveSession(ctx, sessionID); err != nil {
		return "", err
	}
	it, ok, err := activeItem(ctx, q.DB, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return it.Display(), nil
}

// Next dismisses the current ACTIVE item and surfaces the oldest waiting one
// that already has a drafted reply. Safe to call when nothing is ACTIVE
// (first call just surfaces the oldest candidate) and when nothing is
// waiting (returns "").
func (q *Queue) Next(ctx context.Context, sessionID string) (string, error) {
	if _, err := q.Sessions.GetActiveSession(ctx, sessionID); err != nil {
		return "", err
	}
	// Zero rows when nothing is ACTIVE; that is fine.
	if _, err := q.DB.ExecContext(ctx,
		`UPDATE buzz_items SET status='INACTIVE', updated_at=NOW()
		 WHERE session_id=$1 AND status='ACTIVE'`, sessionID); err != nil {
		return "", fmt.Errorf("dismiss active item: %w", err)
	}
	if _, err := q.DB.ExecContext(ctx,
		`UPDATE buzz_items SET status='ACTIVE', updated_at=NOW()
		 WHERE id = (
		   SELECT id FROM buzz_items
		   WHERE session_id=$1 AND status='FOUND' AND COALESCE(response,'') <> ''
		   ORDER BY created_at, id LIMIT 1
		 )
		 AND NOT EXISTS (SELECT 1 FROM buzz_items WHERE session_id=$1 AND status='ACTIVE')`,
		sessionID); err != nil {
		return "", fmt.Errorf("promote next item: %w", err)
	}
	it, ok, err := activeItem(ctx, q.DB, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return it.Display(), nil
}

// StoreReply records a moderator note against the session's stream for the
// batched write job to post later.
func (q *Queue) StoreReply(ctx context.Context, sessionID, text string) error {
	ss, err := q.Sessions.GetActiveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return q.Replies.Store(ctx, sessionID, ss.ChatChannelID, text)
}

// QueueStatus describes a session's queue for the status endpoint.
type QueueStatus struct {
	SessionID  string `json:"session_id"`
	Active     bool   `json:"has_active_item"`
	FoundDepth int    `json:"found_depth"`
}

// StatusFor reports the session's queue state without requiring it active.
func (q *Queue) StatusFor(ctx context.Context, sessionID string) (QueueStatus, error) {
	st := QueueStatus{SessionID: sessionID}
	_, ok, err := activeItem(ctx, q.DB, sessionID)
	if err != nil {
		return st, err
	}
	st.Active = ok
	err = q.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM buzz_items WHERE session_id=$1 AND status='FOUND'`,
		sessionID).Scan(&st.FoundDepth)
	if err != nil {
		return st, err
	}
	return st, nil
}
