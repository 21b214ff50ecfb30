// Package main boots the engagement assistant daemon. It opens the SQLite
// store, logs in to Bluesky, connects the OpenAI-compatible model client and
// the Chroma vector store, seeds the owner profile on first start, then runs
// the discovery dispatcher and the lifecycle cleanup on their configured
// intervals alongside a small ops listener (/healthz, /metrics).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-engage-backend/internal/config"
	"github.com/tbourn/go-engage-backend/internal/domain"
	"github.com/tbourn/go-engage-backend/internal/genai"
	"github.com/tbourn/go-engage-backend/internal/observability"
	"github.com/tbourn/go-engage-backend/internal/platform/bluesky"
	"github.com/tbourn/go-engage-backend/internal/repo"
	"github.com/tbourn/go-engage-backend/internal/schedule"
	"github.com/tbourn/go-engage-backend/internal/services"
	"github.com/tbourn/go-engage-backend/internal/sysutil"
	"github.com/tbourn/go-engage-backend/internal/vector"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return fmt.Errorf("install gorm tracing: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("database ready")
	if counts, err := repo.OpportunityStatusCounts(ctx, db); err == nil {
		log.Info().
			Int64("pending", counts[domain.OpportunityStatusPending]).
			Int64("dismissed", counts[domain.OpportunityStatusDismissed]).
			Int64("expired", counts[domain.OpportunityStatusExpired]).
			Int64("responded", counts[domain.OpportunityStatusResponded]).
			Msg("opportunity queue state")
	}

	bsky := bluesky.NewClient(cfg.Bluesky.Host,
		bluesky.WithRateLimit(cfg.Bluesky.RateRPS, cfg.Bluesky.RateBurst))
	if err := bsky.Login(ctx, cfg.Bluesky.Handle, cfg.Bluesky.Password); err != nil {
		return fmt.Errorf("bluesky login: %w", err)
	}
	log.Info().Str("handle", cfg.Bluesky.Handle).Msg("bluesky session established")

	account, profile, err := ensureOwner(ctx, db, cfg)
	if err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}
	ready := log.Info().
		Str("account_id", account.ID).
		Str("handle", account.Handle)
	if n, last, err := repo.OpportunityStats(ctx, db, account.ID); err == nil {
		ready = ready.Int64("opportunities", n)
		if last != nil {
			ready = ready.Time("last_discovered_at", *last)
		}
	}
	ready.Msg("owner account ready")

	if cfg.KnowledgeDir != "" {
		gen, err := genai.NewClient(cfg.GenAI.APIKey,
			genai.WithBaseURL(cfg.GenAI.BaseURL),
			genai.WithChatModel(cfg.GenAI.ChatModel),
			genai.WithEmbeddingModel(cfg.GenAI.EmbedModel))
		if err != nil {
			return fmt.Errorf("genai client: %w", err)
		}
		knowledge := &services.KnowledgeService{
			Embedder:  gen,
			Store:     vector.NewClient(vector.WithBaseURL(cfg.ChromaURL)),
			MaxChunks: cfg.MaxChunks,
		}
		indexKnowledgeDir(ctx, knowledge, profile.ID, cfg.KnowledgeDir)
	}

	discovery := &services.DiscoveryService{
		DB:         db,
		Adapter:    bsky,
		FetchLimit: cfg.FetchLimit,
		Threshold:  cfg.Threshold,
		Lookback:   cfg.Lookback,
		TTL:        cfg.OpportunityTTL,
	}
	lifecycle := &services.LifecycleService{DB: db, Retention: cfg.DismissedRetention}
	dispatcher := &schedule.Dispatcher{DB: db, Svc: discovery}

	dispatchTask := &schedule.Task{
		Name:     "discovery-dispatch",
		Interval: cfg.DispatchInterval,
		Timeout:  5 * time.Minute,
		Run:      dispatcher.DispatchDue,
	}
	cleanupTask := &schedule.Task{
		Name:     "lifecycle-cleanup",
		Interval: cfg.CleanupInterval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			_, err := lifecycle.RunCycle(ctx)
			return err
		},
	}
	dispatchTask.Start()
	cleanupTask.Start()
	defer cleanupTask.Stop()
	defer dispatchTask.Stop()

	server := opsServer(cfg)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops listener exited with error")
		}
	}()
	log.Info().Str("port", cfg.OpsPort).Msg("ops listener started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	cancel()

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("error shutting down ops listener")
	}
	return nil
}

// ensureOwner makes sure the configured Bluesky account exists together with
// its profile and its two discovery schedules, creating them on first start.
// On later starts only the profile keywords are refreshed from the
// environment, so keyword edits take effect without touching the database.
func ensureOwner(ctx context.Context, db *gorm.DB, cfg config.Config) (*domain.Account, *domain.Profile, error) {
	account, err := repo.GetAccountByHandle(ctx, db, domain.PlatformBluesky, cfg.Bluesky.Handle)
	if err == nil {
		profile, err := repo.GetProfile(ctx, db, account.ProfileID)
		if err != nil {
			return nil, nil, err
		}
		if !slices.Equal(profile.Keywords, cfg.Profile.Keywords) {
			if err := repo.UpdateProfileKeywords(ctx, db, profile.ID, cfg.Profile.Keywords); err != nil {
				return nil, nil, err
			}
			profile.Keywords = cfg.Profile.Keywords
			log.Info().Strs("keywords", cfg.Profile.Keywords).Msg("profile keywords refreshed")
		}
		return account, profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	profile := &domain.Profile{
		Name:       cfg.Profile.Name,
		Voice:      cfg.Profile.Voice,
		Principles: cfg.Profile.Principles,
		Interests:  cfg.Profile.Interests,
		Keywords:   cfg.Profile.Keywords,
	}
	if err := repo.CreateProfile(ctx, db, profile); err != nil {
		return nil, nil, err
	}
	account = &domain.Account{
		ProfileID: profile.ID,
		Platform:  domain.PlatformBluesky,
		Handle:    cfg.Bluesky.Handle,
	}
	if err := repo.CreateAccount(ctx, db, account); err != nil {
		return nil, nil, err
	}
	seeds := []struct{ discoveryType, cron string }{
		{domain.DiscoveryTypeReplies, cfg.RepliesCron},
		{domain.DiscoveryTypeSearch, cfg.SearchCron},
	}
	for _, s := range seeds {
		sc := &domain.Schedule{
			AccountID:     account.ID,
			DiscoveryType: s.discoveryType,
			Enabled:       true,
			Cron:          s.cron,
		}
		if err := repo.CreateSchedule(ctx, db, sc); err != nil {
			return nil, nil, err
		}
	}
	log.Info().Str("handle", account.Handle).Msg("owner account created")
	return account, profile, nil
}

// indexKnowledgeDir loads every Markdown or plain-text file in dir into the
// profile's knowledge collection. The file name is the document id, so
// re-running after an edit replaces the previous chunks. Unreadable or
// unindexable files are logged and skipped.
func indexKnowledgeDir(ctx context.Context, svc *services.KnowledgeService, profileID, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("knowledge directory unreadable, skipping ingest")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("knowledge file unreadable, skipped")
			continue
		}
		title := strings.TrimSuffix(e.Name(), ext)
		n, err := svc.IndexDocument(ctx, profileID, e.Name(), title, string(data))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("knowledge file not indexed")
			continue
		}
		log.Info().Str("file", e.Name()).Int("chunks", n).Msg("knowledge file indexed")
	}
}

// opsServer builds the operational HTTP listener: a liveness probe on
// /healthz and the Prometheus registry on /metrics.
func opsServer(cfg config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              ":" + cfg.OpsPort,
		Handler:           mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
