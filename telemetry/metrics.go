// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesFetched    prometheus.Counter
	MessagesFiltered   prometheus.Counter
	BuzzEnqueued       prometheus.Counter
	GenerationsOK      prometheus.Counter
	GenerationsFailed  prometheus.Counter
	SummariesOK        prometheus.Counter
	PostsOK            prometheus.Counter
	PostsFailed        prometheus.Counter
	ChatEndedEvents    prometheus.Counter
	IngestTicks        prometheus.Counter
	WriteTicks         prometheus.Counter

	// Histograms (seconds)
	IngestTickDuration prometheus.Observer
	WriteTickDuration  prometheus.Observer
	GenerateDuration   prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	FoundQueueGauge     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_messages_fetched_total", Help: "Chat messages fetched from the platform"})
		MessagesFiltered = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_messages_filtered_total", Help: "Chat messages dropped by the noise filter"})
		BuzzEnqueued = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_items_enqueued_total", Help: "Buzz items created in FOUND state"})
		GenerationsOK = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_generations_succeeded_total", Help: "Response generations that succeeded"})
		GenerationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_generations_failed_total", Help: "Response generations that failed (item reverted to FOUND)"})
		SummariesOK = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_summaries_total", Help: "Reply group summaries produced"})
		PostsOK = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_posts_succeeded_total", Help: "Chat messages posted to the platform"})
		PostsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_posts_failed_total", Help: "Chat message post attempts that failed"})
		ChatEndedEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_chat_ended_total", Help: "Sessions deactivated because the platform reported the chat ended"})
		IngestTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_ingest_ticks_total", Help: "Ingest job ticks"})
		WriteTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "buzz_write_ticks_total", Help: "Write job ticks"})
		IngestTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "buzz_ingest_tick_duration_seconds", Help: "Ingest tick duration seconds", Buckets: prometheus.DefBuckets})
		WriteTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "buzz_write_tick_duration_seconds", Help: "Write tick duration seconds", Buckets: prometheus.DefBuckets})
		GenerateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "buzz_generate_duration_seconds", Help: "Per-item response generation duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "buzz_active_sessions", Help: "Currently active stream sessions"})
		FoundQueueGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "buzz_found_queue_depth", Help: "Buzz items waiting in FOUND state"})
	})
}

// SetActiveSessions records the current active session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetFoundQueueDepth records the current FOUND backlog.
func SetFoundQueueDepth(n int) {
	if FoundQueueGauge != nil {
		FoundQueueGauge.Set(float64(n))
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// Nil-safe increment/observe wrappers so packages can record metrics without
// caring whether Init ran (it does not in unit tests).
func IncMessagesFetched(n int) {
	if MessagesFetched != nil {
		MessagesFetched.Add(float64(n))
	}
}
func IncMessagesFiltered(n int) {
	if MessagesFiltered != nil {
		MessagesFiltered.Add(float64(n))
	}
}
func IncBuzzEnqueued()     { inc(BuzzEnqueued) }
func IncGenerationOK()     { inc(GenerationsOK) }
func IncGenerationFailed() { inc(GenerationsFailed) }
func IncSummaryOK()        { inc(SummariesOK) }
func IncPostOK()           { inc(PostsOK) }
func IncPostFailed()       { inc(PostsFailed) }
func IncChatEnded()        { inc(ChatEndedEvents) }
func IncIngestTick()       { inc(IngestTicks) }
func IncWriteTick()        { inc(WriteTicks) }

func ObserveIngestTick(d time.Duration) { observe(IngestTickDuration, d) }
func ObserveWriteTick(d time.Duration)  { observe(WriteTickDuration, d) }
func ObserveGenerate(d time.Duration)   { observe(GenerateDuration, d) }

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
