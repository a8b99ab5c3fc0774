package buzz

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castwatch/buzz-tender/backend/config"
	"github.com/castwatch/buzz-tender/backend/db"
	"github.com/castwatch/buzz-tender/backend/generation"
	"github.com/castwatch/buzz-tender/backend/platform"
	"github.com/castwatch/buzz-tender/backend/session"
	"github.com/castwatch/buzz-tender/backend/telemetry"
)

// Ingestor polls chat for every active session, filters noise, classifies
// what remains, and enqueues actionable messages as FOUND buzz items. The
// same pass then runs response generation so fresh items get a drafted reply
// within one read interval.
type Ingestor struct {
	DB       *sql.DB
	Platform platform.Client
	Gen      generation.Service
	Sessions *session.Registry

	FetchLimit int
}

// NewIngestor wires an ingestor from config.
func NewIngestor(db *sql.DB, pc platform.Client, gen generation.Service, reg *session.Registry, cfg config.Config) *Ingestor {
	return &Ingestor{DB: db, Platform: pc, Gen: gen, Sessions: reg, FetchLimit: cfg.FetchLimit}
}

// StartIngestJob runs the poll loop at the read interval with an immediate
// first pass.
func StartIngestJob(ctx context.Context, ing *Ingestor, interval time.Duration) {
	slog.Info("ingest job starting", slog.Duration("interval", interval), slog.String("component", "ingest"))
	ing.runTick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest job stopped", slog.String("component", "ingest"))
			return
		case <-ticker.C:
			ing.runTick(ctx)
		}
	}
}

func (ing *Ingestor) runTick(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "buzz-ingest", "ingest-tick")
	defer span.End()
	telemetry.IncIngestTick()
	start := time.Now()
	if err := ing.IngestOnce(ctx); err != nil && ctx.Err() == nil {
		telemetry.RecordError(span, err)
		telemetry.LoggerWithCorr(ctx).Warn("ingest once", slog.Any("err", err), slog.String("component", "ingest"))
	}
	if err := ing.RespondOnce(ctx); err != nil && ctx.Err() == nil {
		telemetry.RecordError(span, err)
		telemetry.LoggerWithCorr(ctx).Warn("respond once", slog.Any("err", err), slog.String("component", "respond"))
	}
	telemetry.ObserveIngestTick(time.Since(start))
}

// IngestOnce polls every active session concurrently. Per-session failures
// are logged and isolated; the pass itself only fails when it cannot list
// sessions.
func (ing *Ingestor) IngestOnce(ctx context.Context) error {
	db.SetHeartbeat(ctx, ing.DB, "job_ingest_last")

	sessions, err := ing.Sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	telemetry.SetActiveSessions(len(sessions))
	if len(sessions) == 0 {
		return nil
	}

	done := make(chan struct{}, len(sessions))
	for _, ss := range sessions {
		go func(ss session.StreamSession) {
			defer func() { done <- struct{}{} }()
			if err := ing.ingestSession(ctx, ss); err != nil && ctx.Err() == nil {
				telemetry.LoggerWithCorr(ctx).Warn("ingest session",
					slog.String("session_id", ss.SessionID),
					slog.String("chat_channel_id", ss.ChatChannelID),
					slog.Any("err", err),
					slog.String("component", "ingest"))
			}
		}(ss)
	}
	for range sessions {
		<-done
	}
	telemetry.SetFoundQueueDepth(foundQueueDepth(ctx, ing.DB))
	return nil
}

// ingestSession fetches one page for a session, drops noise, classifies the
// survivors in one batched call, and enqueues the actionable ones. The
// cursor only advances after every enqueue succeeded, so a failed tick is
// refetched rather than skipped.
func (ing *Ingestor) ingestSession(ctx context.Context, ss session.StreamSession) error {
	ctx, span := telemetry.StartSpan(ctx, "buzz-ingest", "ingest-session",
		telemetry.SessionAttr(ss.SessionID), telemetry.ChannelAttr(ss.ChatChannelID))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("session_id", ss.SessionID),
		slog.String("component", "ingest"))

	page, err := ing.Platform.FetchPage(ctx, ss.ChatChannelID, ss.Cursor, ing.FetchLimit)
	if err != nil {
		if platform.IsChatEnded(err) {
			telemetry.IncChatEnded()
			logger.Info("chat ended; deactivating session")
			return ing.Sessions.Deactivate(ctx, ss.SessionID)
		}
		return fmt.Errorf("fetch page: %w", err)
	}
	telemetry.IncMessagesFetched(len(page.Messages))

	kept := page.Messages[:0:0]
	for _, m := range page.Messages {
		if IsNoise(m.Text) {
			continue
		}
		kept = append(kept, m)
	}
	telemetry.IncMessagesFiltered(len(page.Messages) - len(kept))

	if len(kept) > 0 {
		texts := make([]string, len(kept))
		for i, m := range kept {
			texts[i] = m.Text
		}
		kinds, err := ing.Gen.Classify(ctx, texts)
		if err != nil {
			// No cursor advance: the same page is refetched next tick.
			return fmt.Errorf("classify %d messages: %w", len(texts), err)
		}
		enqueued := 0
		for i, m := range kept {
			if kinds[i] == generation.KindUnknown {
				continue
			}
			if err := insertFound(ctx, ing.DB, ss.SessionID, kinds[i], m.Text, m.Author); err != nil {
				return err
			}
			telemetry.IncBuzzEnqueued()
			enqueued++
		}
		if enqueued > 0 {
			logger.Info("buzz enqueued", slog.Int("count", enqueued), slog.Int("fetched", len(page.Messages)))
		}
	}

	// An empty NextCursor means "no new messages", not end of stream; keep
	// polling from the current position.
	if page.NextCursor != "" && page.NextCursor != ss.Cursor {
		if err := ing.Sessions.AdvanceCursor(ctx, ss.ChatChannelID, page.NextCursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}
