// Package server exposes the mirror over HTTP: read APIs for the
// dashboard, the webhook intake for live events, a websocket stream
// of notifier events, and a blocking sync trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"

	"github.com/petercort/RunWatch-sub000/config"
	"github.com/petercort/RunWatch-sub000/db"
	"github.com/petercort/RunWatch-sub000/forge"
	"github.com/petercort/RunWatch-sub000/log"
	"github.com/petercort/RunWatch-sub000/notifier"
	"github.com/petercort/RunWatch-sub000/reconcile"
	"github.com/petercort/RunWatch-sub000/syncer"
)

type Server struct {
	cfg     *config.Config
	db      *db.DB
	n       *notifier.Notifier
	rec     *reconcile.Reconciler
	engine  *syncer.Engine
	tracker *syncer.Tracker
	l       *slog.Logger

	// one crawl at a time
	syncMu sync.Mutex
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run the runwatch server",
		Action: Run,
		Description: `
Environment variables:
	RUNWATCH_SERVER_LISTEN_ADDR             (default: 0.0.0.0:6480)
	RUNWATCH_SERVER_DB_PATH                 (default: runwatch.db)
	RUNWATCH_SERVER_WEBHOOK_SECRET
	RUNWATCH_SERVER_DEV                     (default: false)
	RUNWATCH_FORGE_TOKEN
	RUNWATCH_FORGE_API_BASE                 (default: https://api.github.com)
	RUNWATCH_SYNC_ORGANIZATION
	RUNWATCH_SYNC_PAGE_SIZE                 (default: 50)
	RUNWATCH_SYNC_MAX_RUNS_PER_WORKFLOW     (default: 100)
`,
	}
}

func Run(ctx context.Context, _ *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	client, err := forge.NewHTTPClient(cfg.Forge.APIBase, cfg.Forge.Token)
	if err != nil {
		return fmt.Errorf("failed to setup forge client: %w", err)
	}

	n := notifier.New()
	rec := reconcile.New(d, n, log.SubLogger(logger, "reconcile"))
	tracker := syncer.NewTracker(d, n, log.SubLogger(logger, "tracker"))
	gov := syncer.NewGovernor(client, tracker, log.SubLogger(logger, "governor"))
	engine := syncer.NewEngine(client, tracker, rec, gov, log.SubLogger(logger, "sync"), cfg.Sync.PageSize)

	server := &Server{
		cfg:     cfg,
		db:      d,
		n:       n,
		rec:     rec,
		engine:  engine,
		tracker: tracker,
		l:       logger,
	}

	if cfg.Server.Dev {
		logger.Info("running in dev mode, signature verification is disabled")
	} else if cfg.Server.WebhookSecret == "" {
		logger.Warn("no webhook secret configured, signature verification is disabled")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	logger.Info("starting runwatch server", "address", cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{id}", s.GetRun)
		r.Get("/repositories/{owner}/{repo}/runs", s.ListRepositoryRuns)
		r.Get("/stats", s.WorkflowStats)
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", s.TriggerSync)
			r.Get("/active", s.ActiveSync)
			r.Get("/history", s.SyncHistory)
		})
	})
	mux.Post("/webhooks/github", s.Webhook)
	mux.Get("/events", s.Events)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
