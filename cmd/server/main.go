package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-approvals/internal/cache"
	"github.com/pesio-ai/be-approvals/internal/client"
	"github.com/pesio-ai/be-approvals/internal/config"
	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/engine"
	"github.com/pesio-ai/be-approvals/internal/handler"
	"github.com/pesio-ai/be-approvals/internal/logger"
	"github.com/pesio-ai/be-approvals/internal/middleware"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Redis is optional: rule lookups fall back to Postgres when it is down.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, rule caching disabled")
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	}

	// NATS is optional the same way: events are best-effort.
	natsConn, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		natsConn = nil
	} else {
		defer natsConn.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}

	// Initialize repositories
	rulesRepo := repository.NewApprovalRulesRepository(db)
	instancesRepo := repository.NewApprovalInstancesRepository(db)
	stepsRepo := repository.NewApprovalStepsRepository(db)
	decisionsRepo := repository.NewApprovalDecisionsRepository(db)

	// Initialize infrastructure collaborators
	ruleCache := cache.NewRuleCache(redisClient, cfg.Redis.RuleTTL, log.Logger)
	notifier := client.NewNotificationPublisher(natsConn, log.Logger)
	slaCalc := engine.NewSlaCalculator(nil, nil)

	// Initialize services
	ruleService := service.NewRuleService(rulesRepo, ruleCache, log)
	approvalService := service.NewApprovalService(
		ruleService,
		instancesRepo,
		stepsRepo,
		decisionsRepo,
		service.StepApproverResolver{},
		notifier,
		slaCalc,
		log,
	)
	escalationService := service.NewEscalationService(
		ruleService,
		instancesRepo,
		stepsRepo,
		notifier,
		engine.SweepConfig{
			ReminderThresholds:   cfg.Engine.ReminderThresholds,
			WarningThreshold:     cfg.Engine.WarningThreshold,
			AutoApproveOnTimeout: cfg.Engine.AutoApproveOnTimeout,
		},
		0,
		log,
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, ruleService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Rule routes
	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRules(w, r)
		case http.MethodPost:
			httpHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/rules/get", httpHandler.GetRule)
	mux.HandleFunc("/api/v1/rules/update", httpHandler.UpdateRule)
	mux.HandleFunc("/api/v1/rules/deactivate", httpHandler.DeactivateRule)

	// Approval routes
	mux.HandleFunc("/api/v1/approvals/submit", httpHandler.SubmitApproval)
	mux.HandleFunc("/api/v1/approvals/decide", httpHandler.DecideApproval)
	mux.HandleFunc("/api/v1/approvals/cancel", httpHandler.CancelApproval)
	mux.HandleFunc("/api/v1/approvals/get", httpHandler.GetApproval)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.ListPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/decisions", httpHandler.GetDecisionTrail)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Escalation sweep loop
	go func() {
		ticker := time.NewTicker(cfg.Engine.SweepInterval)
		defer ticker.Stop()
		log.Info().Dur("interval", cfg.Engine.SweepInterval).Msg("Starting escalation sweep loop")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := escalationService.RunSweep(ctx); err != nil {
					log.Error().Err(err).Msg("Escalation sweep failed")
				}
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
