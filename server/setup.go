// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package server wires the reconciliation engine to its stores and exposes the
// operator HTTP API. SetupServer is shared by the daemon and the tests.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildtools/guildsync/blobrepo"
	"github.com/guildtools/guildsync/blobstore"
	"github.com/guildtools/guildsync/pgstore"
	"github.com/guildtools/guildsync/reconcile"
)

// Components holds the initialized server components.
type Components struct {
	Pool         *pgxpool.Pool
	Blob         blobstore.KV
	Orchestrator *reconcile.Orchestrator
	JWTAuth      *reconcile.JWTAuth
	Handler      http.Handler
	Logger       *slog.Logger
	Registry     *prometheus.Registry
}

// TestServer is a Components instance behind an httptest server.
type TestServer struct {
	*Components
	HTTPServer *httptest.Server
}

// SetupServer initializes the blob store, the relational pool, the
// reconciliation engine, and the HTTP handler.
func SetupServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := pgstore.InitSchema(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	kv, err := openBlob(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := NewPrometheusRecorder(registry)

	orch, err := buildEngine(cfg, kv, pool, recorder, logger)
	if err != nil {
		kv.Close()
		pool.Close()
		return nil, err
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-in-production"
		logger.Warn("Using default JWT secret - change in production!")
	}
	jwtAuth := reconcile.NewJWTAuth(jwtSecret)

	handlers := reconcile.NewHTTPHandlers(orch, jwtAuth, logger)
	handlers.AppName = cfg.AppName
	handlers.Probes = map[string]func(r *http.Request) error{
		"relational": func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
		"blob": func(r *http.Request) error {
			_, err := kv.Keys(r.Context(), "member/")
			return err
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/check-sync", handlers.HandleCheckSync)
	mux.HandleFunc("POST /admin/migrate/{type}", handlers.HandleMigrateType)
	mux.HandleFunc("POST /admin/migrate", handlers.HandleMigrateAll)
	mux.HandleFunc("GET /admin/status", handlers.HandleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Components{
		Pool:         pool,
		Blob:         kv,
		Orchestrator: orch,
		JWTAuth:      jwtAuth,
		Handler:      mux,
		Logger:       logger,
		Registry:     registry,
	}, nil
}

func openBlob(ctx context.Context, cfg *Config, logger *slog.Logger) (blobstore.KV, error) {
	switch cfg.Blob.Backend {
	case "redis":
		logger.Info("Opening redis blob store", "addr", cfg.Blob.RedisAddr, "db", cfg.Blob.RedisDB)
		return blobstore.OpenRedis(ctx, cfg.Blob.RedisAddr, cfg.Blob.RedisDB)
	default:
		logger.Info("Opening sqlite blob store", "path", cfg.Blob.Path)
		return blobstore.OpenSQLite(cfg.Blob.Path)
	}
}

// buildEngine registers all seven entity types, parents before children, with
// registrations/presences checked under their event and sections under their
// monthly evaluation.
func buildEngine(cfg *Config, kv blobstore.KV, pool *pgxpool.Pool, recorder reconcile.StageMetricsRecorder, logger *slog.Logger) (*reconcile.Orchestrator, error) {
	checkerCfg := &reconcile.CheckerConfig{
		ChildConcurrency: cfg.ChildConcurrency,
		OpTimeout:        cfg.OpTimeout,
		Metrics:          recorder,
	}
	migratorCfg := &reconcile.MigratorConfig{
		Concurrency: cfg.RecordConcurrency,
		OpTimeout:   cfg.OpTimeout,
		Metrics:     recorder,
	}

	eventChk := reconcile.NewChecker(reconcile.EventDescriptor(),
		blobrepo.NewEvents(kv, logger), pgstore.NewEvents(pool, logger), checkerCfg, logger)
	eventMig := reconcile.NewMigrator(reconcile.EventDescriptor(),
		blobrepo.NewEvents(kv, logger), pgstore.NewEvents(pool, logger), migratorCfg, logger)

	regChk := reconcile.NewChecker(reconcile.RegistrationDescriptor(),
		blobrepo.NewRegistrations(kv, logger), pgstore.NewRegistrations(pool, logger), checkerCfg, logger)
	regMig := reconcile.NewMigrator(reconcile.RegistrationDescriptor(),
		blobrepo.NewRegistrations(kv, logger), pgstore.NewRegistrations(pool, logger), migratorCfg, logger)

	prsChk := reconcile.NewChecker(reconcile.PresenceDescriptor(),
		blobrepo.NewPresences(kv, logger), pgstore.NewPresences(pool, logger), checkerCfg, logger)
	prsMig := reconcile.NewMigrator(reconcile.PresenceDescriptor(),
		blobrepo.NewPresences(kv, logger), pgstore.NewPresences(pool, logger), migratorCfg, logger)

	evalChk := reconcile.NewChecker(reconcile.EvaluationDescriptor(),
		blobrepo.NewEvaluations(kv, logger), pgstore.NewEvaluations(pool, logger), checkerCfg, logger)
	evalMig := reconcile.NewMigrator(reconcile.EvaluationDescriptor(),
		blobrepo.NewEvaluations(kv, logger), pgstore.NewEvaluations(pool, logger), migratorCfg, logger)

	secChk := reconcile.NewChecker(reconcile.SectionDescriptor(),
		blobrepo.NewSections(kv, logger), pgstore.NewSections(pool, logger), checkerCfg, logger)
	secMig := reconcile.NewMigrator(reconcile.SectionDescriptor(),
		blobrepo.NewSections(kv, logger), pgstore.NewSections(pool, logger), migratorCfg, logger)

	followChk := reconcile.NewChecker(reconcile.FollowDescriptor(),
		blobrepo.NewFollows(kv, logger), pgstore.NewFollows(pool, logger), checkerCfg, logger)
	followMig := reconcile.NewMigrator(reconcile.FollowDescriptor(),
		blobrepo.NewFollows(kv, logger), pgstore.NewFollows(pool, logger), migratorCfg, logger)

	memberChk := reconcile.NewChecker(reconcile.MemberDescriptor(),
		blobrepo.NewMembers(kv, logger), pgstore.NewMembers(pool, logger), checkerCfg, logger)
	memberMig := reconcile.NewMigrator(reconcile.MemberDescriptor(),
		blobrepo.NewMembers(kv, logger), pgstore.NewMembers(pool, logger), migratorCfg, logger)

	eventChk.AddChild(regChk)
	eventChk.AddChild(prsChk)
	evalChk.AddChild(secChk)

	orch := reconcile.NewOrchestrator(&reconcile.OrchestratorConfig{
		CheckConcurrency:   cfg.CheckConcurrency,
		MigrateConcurrency: cfg.MigrateConcurrency,
		Metrics:            recorder,
	}, logger)

	if err := reconcile.RegisterEntity(orch, eventChk, eventMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, regChk, regMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, prsChk, prsMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, evalChk, evalMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, secChk, secMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, followChk, followMig); err != nil {
		return nil, err
	}
	if err := reconcile.RegisterEntity(orch, memberChk, memberMig); err != nil {
		return nil, err
	}
	return orch, nil
}

// Close shuts down the server components and cleans up resources.
func (c *Components) Close() {
	if c.Blob != nil {
		_ = c.Blob.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewTestServer creates a running test server instance over the shared setup.
func NewTestServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*TestServer, error) {
	components, err := SetupServer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		Components: components,
		HTTPServer: httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources.
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.Components.Close()
}

// URL returns the base URL of the test server.
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates an operator JWT for testing.
func (ts *TestServer) GenerateToken(operatorID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(operatorID, duration)
}
