package reply

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/castwatch/buzz-tender/backend/db"
	"github.com/castwatch/buzz-tender/backend/generation"
	"github.com/castwatch/buzz-tender/backend/platform"
	"github.com/castwatch/buzz-tender/backend/session"
	"github.com/castwatch/buzz-tender/backend/telemetry"
)

// Writer flushes accumulated reply notes to platform chat.
type Writer struct {
	DB       *sql.DB
	Platform platform.Client
	Gen      generation.Service
	Sessions *session.Registry
	Notifier Notifier

	MaxRetries int           // post attempts per tick AND cross-tick bound per record
	RetryDelay time.Duration // pause between post attempts within a tick
}

// staleClaimAfter is how long a record may sit in PENDING before a tick
// assumes its claimant died and requeues it. Claims normally resolve within
// one tick; only a crash mid-post leaves them behind.
const staleClaimAfter = 5 * time.Minute

type group struct {
	sessionID     string
	chatChannelID string
}

type note struct {
	id        int64
	text      string
	createdAt time.Time
}

// StartWriteJob runs the batched write loop at the given interval.
func StartWriteJob(ctx context.Context, w *Writer, interval time.Duration) {
	slog.Info("reply write job starting", slog.Duration("interval", interval), slog.String("component", "reply_write"))
	if err := w.WriteOnce(ctx); err != nil {
		slog.Warn("write once", slog.Any("err", err), slog.String("component", "reply_write"))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reply write job stopped", slog.String("component", "reply_write"))
			return
		case <-ticker.C:
			if err := w.WriteOnce(ctx); err != nil {
				slog.Warn("write once", slog.Any("err", err), slog.String("component", "reply_write"))
			}
		}
	}
}

// WriteOnce runs a single write pass: claim each eligible group, summarize
// its notes into one message, and post it. Group failures are isolated; the
// pass always visits every group.
func (w *Writer) WriteOnce(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "reply-write", "write-tick")
	defer span.End()
	telemetry.IncWriteTick()
	start := time.Now()
	defer func() {
		telemetry.ObserveWriteTick(time.Since(start))
	}()

	db.SetHeartbeat(ctx, w.DB, "job_reply_write_last")

	if err := w.requeueStaleClaims(ctx); err != nil {
		slog.Warn("requeue stale reply claims", slog.Any("err", err), slog.String("component", "reply_write"))
	}

	groups, err := w.eligibleGroups(ctx)
	if err != nil {
		return fmt.Errorf("select reply groups: %w", err)
	}
	for _, g := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.writeGroup(ctx, g); err != nil {
			telemetry.RecordError(span, err)
			slog.Warn("write reply group",
				slog.String("session_id", g.sessionID),
				slog.String("chat_channel_id", g.chatChannelID),
				slog.Any("err", err),
				slog.String("component", "reply_write"))
		}
	}
	return nil
}

// requeueStaleClaims returns PENDING records whose claimant never resolved
// them (crashed process, lost worker) to NOT_WRITTEN so later ticks see them
// again. The age predicate keeps live claims from other workers untouched.
func (w *Writer) requeueStaleClaims(ctx context.Context) error {
	res, err := w.DB.ExecContext(ctx,
		`UPDATE reply_records SET write_state='NOT_WRITTEN', updated_at=NOW()
		 WHERE write_state='PENDING'
		   AND EXTRACT(EPOCH FROM (NOW() - COALESCE(updated_at, created_at))) >= $1`,
		int(staleClaimAfter.Seconds()))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("requeued stale reply claims", slog.Int64("records", n), slog.String("component", "reply_write"))
	}
	return nil
}

// eligibleGroups lists (session, channel) pairs with unwritten notes still
// inside the retry bound.
func (w *Writer) eligibleGroups(ctx context.Context) ([]group, error) {
	rows, err := w.DB.QueryContext(ctx,
		`SELECT session_id, chat_channel_id FROM reply_records
		 WHERE write_state='NOT_WRITTEN' AND retry_count < $1
		 GROUP BY session_id, chat_channel_id
		 ORDER BY MIN(created_at)`, w.MaxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []group
	for rows.Next() {
		var g group
		if err := rows.Scan(&g.sessionID, &g.chatChannelID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (w *Writer) writeGroup(ctx context.Context, g group) error {
	ctx, span := telemetry.StartSpan(ctx, "reply-write", "write-group",
		telemetry.SessionAttr(g.sessionID), telemetry.ChannelAttr(g.chatChannelID))
	defer span.End()
	notes, err := w.claimGroup(ctx, g)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		// Another pass got there first, or teardown resolved the records.
		return nil
	}
	logger := slog.Default().With(
		slog.String("session_id", g.sessionID),
		slog.String("chat_channel_id", g.chatChannelID),
		slog.String("component", "reply_write"))

	message, err := w.composeMessage(ctx, notes)
	if err != nil {
		// Summarize failure does not consume a retry; the notes simply wait
		// for the next tick.
		logger.Warn("summarize reply batch", slog.Any("err", err))
		return w.releaseGroup(ctx, g, false)
	}

	if err := w.post(ctx, g.chatChannelID, message); err != nil {
		if platform.IsChatEnded(err) {
			telemetry.IncChatEnded()
			logger.Info("chat ended during post; deactivating session")
			// Teardown marks the group's records WRITTEN as part of the
			// cascade, so no release is needed.
			return w.Sessions.Deactivate(ctx, g.sessionID)
		}
		telemetry.IncPostFailed()
		logger.Warn("post reply batch", slog.Int("notes", len(notes)), slog.Any("err", err))
		return w.releaseGroup(ctx, g, true)
	}

	if err := w.markWritten(ctx, g); err != nil {
		return err
	}
	telemetry.IncPostOK()
	logger.Info("reply batch posted", slog.Int("notes", len(notes)))
	if w.Notifier != nil {
		w.Notifier.Notify(ctx, Notification{
			SessionID:     g.sessionID,
			ChatChannelID: g.chatChannelID,
			Summary:       message,
			Count:         len(notes),
		})
	}
	return nil
}

// claimGroup moves the group's NOT_WRITTEN records to PENDING and returns
// them oldest-first. The conditional update is the claim: overlapping passes
// see zero rows and skip the group.
func (w *Writer) claimGroup(ctx context.Context, g group) ([]note, error) {
	rows, err := w.DB.QueryContext(ctx,
		`UPDATE reply_records SET write_state='PENDING', updated_at=NOW()
		 WHERE session_id=$1 AND chat_channel_id=$2 AND write_state='NOT_WRITTEN' AND retry_count < $3
		 RETURNING id, text, created_at`,
		g.sessionID, g.chatChannelID, w.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("claim reply group: %w", err)
	}
	defer rows.Close()
	var notes []note
	for rows.Next() {
		var n note
		if err := rows.Scan(&n.id, &n.text, &n.createdAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].createdAt.Equal(notes[j].createdAt) {
			return notes[i].createdAt.Before(notes[j].createdAt)
		}
		return notes[i].id < notes[j].id
	})
	return notes, nil
}

// composeMessage turns the claimed notes into the single chat message to
// post. A lone note goes out verbatim; multiple notes are summarized so the
// channel sees one coherent message.
func (w *Writer) composeMessage(ctx context.Context, notes []note) (string, error) {
	if len(notes) == 1 {
		return notes[0].text, nil
	}
	parts := make([]string, len(notes))
	for i, n := range notes {
		parts[i] = n.text
	}
	summary, err := w.Gen.Summarize(ctx, strings.Join(parts, "\n"))
	if err != nil {
		return "", err
	}
	telemetry.IncSummaryOK()
	return summary, nil
}

// post tries up to MaxRetries attempts with a fixed pause. Chat-ended and
// other non-transient errors short-circuit the attempts.
func (w *Writer) post(ctx context.Context, chatChannelID, text string) error {
	var last error
	for attempt := 1; attempt <= w.MaxRetries; attempt++ {
		last = w.Platform.PostMessage(ctx, chatChannelID, text)
		if last == nil {
			return nil
		}
		if !platform.IsTransient(last) {
			return last
		}
		if attempt < w.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.RetryDelay):
			}
		}
	}
	return last
}

// releaseGroup returns PENDING records to NOT_WRITTEN. When the release
// follows a failed post it bumps retry_count, and records that hit the bound
// flip to FAILED instead of queueing forever. The release must land even
// when the failure was the caller's own ctx being cancelled, so it runs
// detached from cancellation.
func (w *Writer) releaseGroup(ctx context.Context, g group, countAttempt bool) error {
	ctx = context.WithoutCancel(ctx)
	if !countAttempt {
		_, err := w.DB.ExecContext(ctx,
			`UPDATE reply_records SET write_state='NOT_WRITTEN', updated_at=NOW()
			 WHERE session_id=$1 AND chat_channel_id=$2 AND write_state='PENDING'`,
			g.sessionID, g.chatChannelID)
		return err
	}
	_, err := w.DB.ExecContext(ctx,
		`UPDATE reply_records
		 SET retry_count=retry_count+1,
		     write_state=CASE WHEN retry_count+1 >= $3 THEN 'FAILED' ELSE 'NOT_WRITTEN' END,
		     updated_at=NOW()
		 WHERE session_id=$1 AND chat_channel_id=$2 AND write_state='PENDING'`,
		g.sessionID, g.chatChannelID, w.MaxRetries)
	return err
}

// markWritten runs detached from cancellation: the post already went out, so
// losing the state update here would repost the same batch after a restart.
func (w *Writer) markWritten(ctx context.Context, g group) error {
	_, err := w.DB.ExecContext(context.WithoutCancel(ctx),
		`UPDATE reply_records SET write_state='WRITTEN', updated_at=NOW()
		 WHERE session_id=$1 AND chat_channel_id=$2 AND write_state='PENDING'`,
		g.sessionID, g.chatChannelID)
	if err != nil {
		return fmt.Errorf("mark group written: %w", err)
	}
	return nil
}
