package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-console/internal/audit"
	"call-console/internal/auth"
	"call-console/internal/config"
	"call-console/internal/console"
	"call-console/internal/contacts"
	"call-console/internal/dispatch"
	"call-console/internal/history"
	"call-console/internal/httpapi"
	"call-console/internal/reconciler"
	"call-console/internal/stream"
	"call-console/pkg/logger"
	"call-console/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// transitionLog adapts the audit service to the reconciler's logger contract,
// pinning the operator's workspace on every entry.
type transitionLog struct {
	svc         *audit.Service
	workspaceID string
}

func (t transitionLog) LogTransition(ctx context.Context, e reconciler.TransitionEntry) error {
	return t.svc.LogTransition(ctx, t.workspaceID, e.ReferenceID, e.CLI, e.AParty, e.BParty, audit.Status(e.Status))
}

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Transition log: always Postgres, plus the platform endpoint when set.
	auditRepos := []audit.Repository{audit.NewPostgresRepo(db, logger.Component(log, "audit"))}
	if cfg.Audit.BaseURL != "" {
		auditRepos = append(auditRepos, audit.NewHTTPRepo(cfg.Audit.BaseURL, cfg.Audit.APIKey, logger.Component(log, "audit")))
	}
	auditSvc := audit.NewService(audit.NewFanoutRepo(auditRepos...))

	historySvc := history.NewService(db)

	var resolver console.ContactResolver
	if cfg.Contacts.BaseURL != "" {
		resolver = contacts.NewClient(cfg.Contacts.BaseURL, rdb, cfg.Contacts.CacheTTL, logger.Component(log, "contacts"))
	}
	hub := console.NewHub(resolver, logger.Component(log, "console"))

	operator := reconciler.Operator{
		UserID:        cfg.Operator.UserID,
		WorkspaceID:   cfg.Operator.WorkspaceID,
		AgentNumber:   cfg.Operator.AgentNumber,
		AgentID:       cfg.Operator.AgentID,
		VirtualNumber: cfg.Operator.VirtualNumber,
		Administrator: cfg.Operator.Administrator,
	}

	// The dispatcher observes the reconciler it drives, so the observer list
	// is filled in two steps.
	observers := &reconciler.Observers{
		hub,
		history.NewRecorder(historySvc, operator.WorkspaceID, logger.Component(log, "history")),
	}
	rec := reconciler.New(operator, observers,
		transitionLog{svc: auditSvc, workspaceID: operator.WorkspaceID},
		logger.Component(log, "reconciler"))

	gateway := dispatch.NewGateway(dispatch.GatewayConfig{
		BaseURL:      cfg.Gateway.BaseURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		Timeout:      cfg.Gateway.Timeout,
	}, dispatch.NewRedisTokenStore(rdb), logger.Component(log, "gateway"))

	dispatcher := dispatch.New(gateway, rec, auditSvc, operator, rdb, dispatch.Config{
		MaxConcurrentDials: cfg.Gateway.MaxConcurrentDials,
	}, logger.Component(log, "dispatch"))
	*observers = append(*observers, dispatcher)

	streamClient := stream.New(stream.Config{
		URL:              cfg.Relay.StreamURL,
		BackoffBase:      cfg.Relay.BackoffBase,
		BackoffCap:       cfg.Relay.BackoffCap,
		MaxAttempts:      cfg.Relay.MaxAttempts,
		HealthInterval:   cfg.Relay.HealthInterval,
		SilenceThreshold: cfg.Relay.SilenceThreshold,
	}, rec, logger.Component(log, "stream"))
	streamClient.OnDown = hub.PublishSystem

	go func() {
		if err := streamClient.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event stream stopped", "err", err)
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:    authManager,
		Hub:     hub,
		Actions: dispatcher,
		History: historySvc,
		Stream:  streamClient,
	}
	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	// No WriteTimeout: the dashboard event feed is a long-lived SSE response.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("console listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
