// Package oauth schedules proactive refresh of the posting identity's token.
// It wakes on a jittered interval and refreshes when remaining lifetime falls
// inside the window, so a write tick never has to refresh inline against an
// already-expired token.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/castwatch/buzz-tender/backend/platform"
)

// RefreshFunc performs the provider-specific exchange and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that keeps the provider's stored token
// fresh. Tokens go through the store so encryption at rest is preserved.
func StartRefresher(ctx context.Context, store platform.TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomized initial delay spreads load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20%) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshOnce(ctx, store, provider, window, fn)
		}
	}()
}

func refreshOnce(ctx context.Context, store platform.TokenStore, provider string, window time.Duration, fn RefreshFunc) {
	_, rt, exp, scope, err := store.GetOAuthToken(ctx, provider)
	if err != nil || rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", provider))
}
