// Package session tracks stream sessions: one row per live broadcast being
// monitored for a moderation session, including its pagination cursor and
// active flag. At most one session row is active per moderation session ID;
// starting a new stream supersedes (deactivates) the previous one and drops
// its pending work.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/castwatch/buzz-tender/backend/platform"
)

// StreamSession is one monitored live broadcast.
type StreamSession struct {
	ID            int64
	SessionID     string
	VideoID       string
	ChatChannelID string
	Title         string
	Thumbnail     string
	Cursor        string
	Active        bool
	CreatedAt     time.Time
}

// Registry owns stream_sessions rows and their cascading lifecycle.
type Registry struct {
	DB       *sql.DB
	Platform platform.Client
}

// NewRegistry wires a registry over the given store and platform client.
func NewRegistry(db *sql.DB, pc platform.Client) *Registry {
	return &Registry{DB: db, Platform: pc}
}

// StartSession resolves the stream URL, supersedes any prior active session
// for the moderation session (deactivating its buzz items and dropping its
// pending replies), and inserts a fresh active row with an empty cursor.
// Returns *platform.InvalidLinkError verbatim when the link cannot be resolved.
func (r *Registry) StartSession(ctx context.Context, sessionID, url string) (StreamSession, error) {
	info, err := r.Platform.ResolveStream(ctx, url)
	if err != nil {
		return StreamSession{}, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return StreamSession{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deactivateCascade(ctx, tx, sessionID); err != nil {
		return StreamSession{}, err
	}

	s := StreamSession{
		SessionID:     sessionID,
		VideoID:       info.VideoID,
		ChatChannelID: info.ChatChannelID,
		Title:         info.Title,
		Thumbnail:     info.Thumbnail,
		Active:        true,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO stream_sessions (session_id, video_id, chat_channel_id, title, thumbnail, cursor, is_active, created_at)
		 VALUES ($1,$2,$3,$4,$5,'',TRUE,NOW()) RETURNING id, created_at`,
		sessionID, info.VideoID, info.ChatChannelID, info.Title, info.Thumbnail).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return StreamSession{}, fmt.Errorf("insert stream session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return StreamSession{}, fmt.Errorf("commit: %w", err)
	}
	slog.Info("stream session started",
		slog.String("session_id", sessionID),
		slog.String("video_id", info.VideoID),
		slog.String("component", "session"))
	return s, nil
}

// GetActiveSession returns the active row for a moderation session, or
// *platform.NoActiveStreamError when none exists.
func (r *Registry) GetActiveSession(ctx context.Context, sessionID string) (StreamSession, error) {
	var s StreamSession
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, video_id, chat_channel_id, COALESCE(title,''), COALESCE(thumbnail,''), cursor, is_active, created_at
		 FROM stream_sessions WHERE session_id=$1 AND is_active`, sessionID).
		Scan(&s.ID, &s.SessionID, &s.VideoID, &s.ChatChannelID, &s.Title, &s.Thumbnail, &s.Cursor, &s.Active, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return StreamSession{}, &platform.NoActiveStreamError{SessionID: sessionID}
	}
	if err != nil {
		return StreamSession{}, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

// ListActive returns all active stream sessions.
func (r *Registry) ListActive(ctx context.Context) ([]StreamSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, video_id, chat_channel_id, COALESCE(title,''), COALESCE(thumbnail,''), cursor, is_active, created_at
		 FROM stream_sessions WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	var out []StreamSession
	for rows.Next() {
		var s StreamSession
		if err := rows.Scan(&s.ID, &s.SessionID, &s.VideoID, &s.ChatChannelID, &s.Title, &s.Thumbnail, &s.Cursor, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AdvanceCursor moves the pagination cursor for the still-active session on a
// chat channel. A session deactivated concurrently makes this a no-op.
func (r *Registry) AdvanceCursor(ctx context.Context, chatChannelID, cursor string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE stream_sessions SET cursor=$1, updated_at=NOW() WHERE chat_channel_id=$2 AND is_active`,
		cursor, chatChannelID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// Deactivate clears the active flag for a moderation session and cascades:
// open buzz items go INACTIVE and unwritten replies are marked WRITTEN so the
// writer never posts into a dead chat. Clearing an already-inactive session is
// a no-op.
func (r *Registry) Deactivate(ctx context.Context, sessionID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deactivateCascade(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeactivateByChannel is Deactivate keyed by chat channel; used when a
// platform error identifies only the channel.
func (r *Registry) DeactivateByChannel(ctx context.Context, chatChannelID string) error {
	var sessionID string
	err := r.DB.QueryRowContext(ctx,
		`SELECT session_id FROM stream_sessions WHERE chat_channel_id=$1 AND is_active`, chatChannelID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session by channel: %w", err)
	}
	return r.Deactivate(ctx, sessionID)
}

func deactivateCascade(ctx context.Context, tx *sql.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE stream_sessions SET is_active=FALSE, updated_at=NOW() WHERE session_id=$1 AND is_active`, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE buzz_items SET status='INACTIVE', updated_at=NOW() WHERE session_id=$1 AND status IN ('FOUND','PROCESSING','ACTIVE')`, sessionID); err != nil {
		return fmt.Errorf("deactivate buzz items: %w", err)
	}
	// Stale replies are marked WRITTEN (terminal) without a platform post.
	if _, err := tx.ExecContext(ctx,
		`UPDATE reply_records SET write_state='WRITTEN', updated_at=NOW() WHERE session_id=$1 AND write_state IN ('NOT_WRITTEN','PENDING')`, sessionID); err != nil {
		return fmt.Errorf("drop stale replies: %w", err)
	}
	slog.Info("stream session deactivated", slog.String("session_id", sessionID), slog.String("component", "session"))
	return nil
}
