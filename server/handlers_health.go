package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// staleAfter is how long a job heartbeat may lag before readiness fails.
const staleAfter = 10 * time.Minute

// HandleReadyz responds to readiness probes: the database must answer and the
// ingest job must have heartbeat recently once any session is active.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"ingest_heartbeat", func() error {
			var active int
			if err := h.db.QueryRowContext(r.Context(),
				`SELECT COUNT(1) FROM stream_sessions WHERE is_active`).Scan(&active); err != nil {
				return err
			}
			if active == 0 {
				return nil // idle service is still ready
			}
			var last string
			err := h.db.QueryRowContext(r.Context(),
				`SELECT value FROM kv WHERE key='job_ingest_last'`).Scan(&last)
			if err != nil {
				return fmt.Errorf("no ingest heartbeat recorded")
			}
			t, err := time.Parse(time.RFC3339, last)
			if err != nil {
				return fmt.Errorf("bad ingest heartbeat %q", last)
			}
			if time.Since(t) > staleAfter {
				return fmt.Errorf("ingest heartbeat stale (%s)", time.Since(t).Truncate(time.Second))
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
