// Command backend is the main entrypoint for the buzz-tender pipeline.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background jobs: chat ingestion + response generation at the
//     read interval, batched reply writing at the write interval, and the
//     OAuth token refresher for the posting identity.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/castwatch/buzz-tender/backend/buzz"
	"github.com/castwatch/buzz-tender/backend/config"
	"github.com/castwatch/buzz-tender/backend/db"
	"github.com/castwatch/buzz-tender/backend/generation"
	"github.com/castwatch/buzz-tender/backend/oauth"
	"github.com/castwatch/buzz-tender/backend/platform"
	"github.com/castwatch/buzz-tender/backend/reply"
	"github.com/castwatch/buzz-tender/backend/server"
	"github.com/castwatch/buzz-tender/backend/session"
	"github.com/castwatch/buzz-tender/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("buzz-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, embedded SQL as fallback for deployments
	// predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &db.TokenStoreAdapter{DB: database}
	client := buildPlatformClient(ctx, cfg, tokens)

	gen, err := generation.NewGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
	if err != nil {
		slog.Error("generation service init failed", slog.Any("err", err))
		os.Exit(1)
	}

	registry := session.NewRegistry(database, client)

	if err := cfg.ValidateIngestReady(); err != nil {
		slog.Warn("ingestion not fully configured; polling will fail until credentials are set", slog.Any("err", err))
	}

	ingestor := buzz.NewIngestor(database, client, gen, registry, *cfg)
	go buzz.StartIngestJob(ctx, ingestor, cfg.ReadInterval)

	writer := &reply.Writer{
		DB:         database,
		Platform:   client,
		Gen:        gen,
		Sessions:   registry,
		Notifier:   reply.LogNotifier{},
		MaxRetries: cfg.MaxWriteRetries,
		RetryDelay: cfg.WriteRetryDelay,
	}
	go reply.StartWriteJob(ctx, writer, cfg.WriteInterval)

	// Keep the posting identity's token fresh so write ticks never start
	// from an expired token.
	if yc, ok := client.(*platform.YouTubeClient); ok && cfg.YTClientID != "" {
		oauth.StartRefresher(ctx, tokens, "youtube", 10*time.Minute, 20*time.Minute, yc.Refresh)
	}

	// pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// buildPlatformClient picks the chat platform from PLATFORM (youtube|twitch),
// defaulting to youtube.
func buildPlatformClient(ctx context.Context, cfg *config.Config, tokens platform.TokenStore) platform.Client {
	switch strings.ToLower(os.Getenv("PLATFORM")) {
	case "twitch":
		tc := platform.NewTwitchClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
		go tc.Start(ctx)
		slog.Info("platform client initialized", slog.String("platform", "twitch"))
		return tc
	default:
		slog.Info("platform client initialized", slog.String("platform", "youtube"), slog.Int("api_keys", len(cfg.YouTubeAPIKeys)))
		return platform.NewYouTubeClient(cfg, tokens)
	}
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}
