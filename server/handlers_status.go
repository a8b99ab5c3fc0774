package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/castwatch/buzz-tender/backend/telemetry"
)

// HandleStatus returns a lightweight pipeline summary: session, queue, and
// reply counts plus the background job heartbeats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	var activeSessions int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM stream_sessions WHERE is_active`).Scan(&activeSessions)
	resp["active_sessions"] = activeSessions

	counts := map[string]int{}
	rows, err := h.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM buzz_items GROUP BY status`)
	if err == nil {
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Warn("failed to close rows", slog.Any("err", err))
			}
		}()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err == nil {
				counts[status] = n
			}
		}
	}
	resp["buzz_items"] = counts

	var pendingReplies, failedReplies int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reply_records WHERE write_state IN ('NOT_WRITTEN','PENDING')`).Scan(&pendingReplies)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reply_records WHERE write_state='FAILED'`).Scan(&failedReplies)
	resp["pending_replies"] = pendingReplies
	resp["failed_replies"] = failedReplies

	heartbeats := map[string]any{}
	for _, key := range []string{"job_ingest_last", "job_reply_write_last"} {
		var val string
		if err := h.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&val); err != nil {
			continue
		}
		entry := map[string]any{"at": val}
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			entry["age_seconds"] = int(time.Since(t).Seconds())
		}
		heartbeats[key] = entry
	}
	resp["job_heartbeats"] = heartbeats
	resp["tracing"] = telemetry.IsTracingEnabled()
	resp["time"] = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
