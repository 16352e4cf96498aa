// Package server wires the presence subsystem into a runnable HTTP service:
// config → database → stores → tracker, aggregator, sweeper, permission
// cache, gate → middleware chain → http.Server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/activitydesk/presence/pkg/auth"
	"github.com/activitydesk/presence/pkg/authz"
	authzpg "github.com/activitydesk/presence/pkg/authz/postgres"
	"github.com/activitydesk/presence/pkg/config"
	"github.com/activitydesk/presence/pkg/database/migrate"
	"github.com/activitydesk/presence/pkg/health"
	"github.com/activitydesk/presence/pkg/httpapi"
	"github.com/activitydesk/presence/pkg/presence"
	presencepg "github.com/activitydesk/presence/pkg/presence/postgres"
)

// Version is the presenced release version.
const Version = "1.0.0"

const shutdownTimeout = 10 * time.Second

// Server is the assembled presence service.
type Server struct {
	cfg     *config.Config
	db      *sql.DB
	sweeper *presence.Sweeper
	checker *health.Checker
	httpSrv *http.Server
}

// New loads configuration, connects to the database, runs migrations, and
// assembles the component graph.
func New(configPath string) (*Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := presencepg.NewStore(db)
	directory := presencepg.NewDirectory(db)

	tracker := presence.NewTracker(store, directory, presence.TrackerConfig{
		ActiveWindow: cfg.Presence.ActiveWindow.Std(),
	})
	aggregator := presence.NewAggregator(store, directory)
	sweeper := presence.NewSweeper(store, cfg.Presence.Retention.Std())

	cache := authz.NewCache(authzpg.New(db), cfg.Authz.CacheTTL.Std())
	gate := authz.NewGate(cache)

	api := httpapi.NewHandler(tracker, aggregator, sweeper, cache, gate)

	var handler http.Handler = api
	handler = httpapi.Heartbeat(tracker)(handler)
	handler = auth.Middleware([]byte(cfg.Auth.SigningKey))(handler)

	// Probes sit outside the auth chain so orchestrators can hit them
	// without a token.
	checker := health.NewChecker(db)
	root := http.NewServeMux()
	root.Handle("GET /healthz", checker.LivenessHandler())
	root.Handle("GET /readyz", checker.ReadinessHandler())
	root.Handle("/", handler)

	return &Server{
		cfg:     cfg,
		db:      db,
		sweeper: sweeper,
		checker: checker,
		httpSrv: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           httpapi.RequestID(root),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run starts the sweep schedule and serves HTTP until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.sweeper.Start(s.cfg.Presence.SweepSchedule); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.checker.SetDraining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server: shutdown failed", "error", err)
		}
	}()

	s.checker.SetReady()
	slog.Info("server: listening", "address", s.cfg.Server.Address, "version", Version)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Close stops the sweep schedule and releases the database connection.
func (s *Server) Close() error {
	s.sweeper.Stop()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
