package buzz

import (
	"context"
	"log/slog"
	"time"

	"github.com/castwatch/buzz-tender/backend/telemetry"
)

// generateTimeout bounds a single Respond call so one stuck generation
// cannot hold the whole pass.
const generateTimeout = 30 * time.Second

// staleClaimAfter is how long an item may sit in PROCESSING before a pass
// assumes its claimant died and requeues it.
const staleClaimAfter = 5 * time.Minute

// RespondOnce claims every waiting FOUND item and, oldest first, drafts a
// reply and tries to surface the item as ACTIVE. Failures are per-item: a
// failed generation reverts the item to FOUND (counting the attempt) and the
// pass moves on.
func (ing *Ingestor) RespondOnce(ctx context.Context) error {
	if err := requeueStaleClaims(ctx, ing.DB); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("requeue stale buzz claims", slog.Any("err", err), slog.String("component", "respond"))
	}
	items, err := claimFound(ctx, ing.DB)
	if err != nil {
		return err
	}
	for _, it := range items {
		if ctx.Err() != nil {
			// Shutdown mid-pass: release unprocessed claims.
			_ = revertToFound(context.WithoutCancel(ctx), ing.DB, it.ID, false)
			continue
		}
		ing.respondItem(ctx, it)
	}
	return nil
}

func (ing *Ingestor) respondItem(ctx context.Context, it Item) {
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("session_id", it.SessionID),
		slog.Int64("item_id", it.ID),
		slog.String("component", "respond"))

	// Items that lost an earlier ACTIVE race arrive with a stored response;
	// no point paying for regeneration.
	if it.Response == "" {
		gctx, cancel := context.WithTimeout(ctx, generateTimeout)
		start := time.Now()
		response, err := ing.Gen.Respond(gctx, it.OriginalText, it.Kind)
		cancel()
		telemetry.ObserveGenerate(time.Since(start))
		if err != nil {
			telemetry.IncGenerationFailed()
			logger.Warn("generate response", slog.Any("err", err))
			if rerr := revertToFound(ctx, ing.DB, it.ID, true); rerr != nil {
				logger.Warn("revert item", slog.Any("err", rerr))
			}
			return
		}
		if err := storeResponse(ctx, ing.DB, it.ID, response); err != nil {
			logger.Warn("store response", slog.Any("err", err))
			_ = revertToFound(ctx, ing.DB, it.ID, false)
			return
		}
		telemetry.IncGenerationOK()
	}

	won, err := promote(ctx, ing.DB, it.ID, it.SessionID)
	if err != nil {
		logger.Warn("promote item", slog.Any("err", err))
		_ = revertToFound(ctx, ing.DB, it.ID, false)
		return
	}
	if !won {
		// Session already has an ACTIVE item. Back to FOUND with the
		// response kept; Next() or a later pass surfaces it.
		_ = revertToFound(ctx, ing.DB, it.ID, false)
		return
	}
	logger.Info("buzz item surfaced", slog.String("kind", string(it.Kind)))
}
