package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cortexhq/cortex/common/id"
	"github.com/cortexhq/cortex/common/llm"
	"github.com/cortexhq/cortex/common/logger"
	"github.com/cortexhq/cortex/common/otel"
	"github.com/cortexhq/cortex/core/config"
	"github.com/cortexhq/cortex/core/db"
	"github.com/cortexhq/cortex/internal/approval"
	"github.com/cortexhq/cortex/internal/audit"
	"github.com/cortexhq/cortex/internal/calibration"
	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/engine"
	"github.com/cortexhq/cortex/internal/http/handler"
	"github.com/cortexhq/cortex/internal/http/middleware"
	httprouter "github.com/cortexhq/cortex/internal/http/router"
	"github.com/cortexhq/cortex/internal/metrics"
	"github.com/cortexhq/cortex/internal/migrate"
	"github.com/cortexhq/cortex/internal/policy"
	"github.com/cortexhq/cortex/internal/queue"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/retriever/dense"
	"github.com/cortexhq/cortex/internal/retriever/entity"
	"github.com/cortexhq/cortex/internal/retriever/lexical"
	"github.com/cortexhq/cortex/internal/tools/websearch"
	"github.com/cortexhq/cortex/internal/uncertainty"
	"github.com/cortexhq/cortex/internal/verifier"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "cortex server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	if err := migrate.Up(cfg.DB.DSN); err != nil {
		slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "migrations applied")

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	pool := database.Pool()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unreachable, continuing without async queueing", "error", err)
			redisClient = nil
		} else {
			slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)
		}
	}

	var agentClient llm.AgentClient
	var structuredClient llm.Client
	if cfg.LLM.Enabled() {
		llmCfg := llm.Config{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model}
		if cfg.LLM.Provider == "anthropic" {
			agentClient, err = llm.NewAnthropicClient(llmCfg)
		} else {
			agentClient, err = llm.NewAgentClient(llmCfg)
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to create agent llm client", "error", err)
			os.Exit(1)
		}
		structuredClient, err = llm.New(llm.StructuredConfig{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create structured llm client", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "llm clients initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		slog.WarnContext(ctx, "LLM_PROVIDER/LLM_API_KEY not set: composer and verifier run in deterministic-fallback mode only")
	}

	lexicalSource := lexical.New(pool, cfg.Retriever.SnippetMaxChars)
	denseSource := dense.New(cfg.Retriever.TypesenseURL, cfg.Retriever.TypesenseAPIKey, cfg.Retriever.TypesenseCollection)
	entitySource := entity.New(entity.NewStore())

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)

	fuser := &retriever.Fuser{Lexical: lexicalSource, Dense: denseSource, Entity: entitySource, Metrics: metricsRegistry}

	comp := composer.New(agentClient)
	estimator := uncertainty.New(agentClient)

	verif, err := verifier.New(structuredClient)
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct verifier", "error", err)
		os.Exit(1)
	}

	decisionHead := decision.New(decision.DefaultWeights())

	calibrationStore := calibration.New(pool)
	auditStore := audit.New(pool)
	policyStore := policy.New(pool)

	approvalStore := approval.New(cfg.Approval.DefaultTTL)
	approvalStore.SetDepthObserver(func(pending int) {
		metricsRegistry.ApprovalQueueDepth.Set(float64(pending))
	})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go approvalStore.RunSweeper(sweepCtx, cfg.Approval.SweepInterval)

	eng := engine.New(engine.Config{
		Fuser:        fuser,
		Composer:     comp,
		Estimator:    estimator,
		Verifier:     verif,
		DecisionHead: decisionHead,
		Calibration:  calibrationStore,
		Audit:        auditStore,
		Approvals:    approvalStore,
		Policies:     policyStore,
		Metrics:      metricsRegistry,
		WebSearch:      websearch.NullBackend{},
		TableQueryPool: pool,
		Budgets: engine.Budgets{
			MaxRefinements:        cfg.Budgets.MaxRefinements,
			WallClockBudget:       cfg.Budgets.LatencyBudget,
			MinCalibrationSamples: 30,
		},
	})

	var producer queue.Producer
	if redisClient != nil {
		producer = queue.NewRedisProducer(redisClient, cfg.Redis.Stream)
	} else {
		slog.WarnContext(ctx, "POST /agent/answer/async disabled: no redis connection")
	}

	agentHandler := handler.NewAnswerHandler(eng, approvalStore, calibrationStore, auditStore, metricsRegistry, producer)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, agentHandler)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	stopSweep()
	approvalStore.Stop()

	if redisClient != nil {
		_ = redisClient.Close()
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, agentHandler *handler.AnswerHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, agentHandler, httprouter.RouterConfig{
		IsProduction: cfg.IsProduction(),
	})

	return router
}

const banner = `
 ██████╗ ██████╗ ██████╗ ████████╗███████╗██╗  ██╗
██╔════╝██╔═══██╗██╔══██╗╚══██╔══╝██╔════╝╚██╗██╔╝
██║     ██║   ██║██████╔╝   ██║   █████╗   ╚███╔╝
██║     ██║   ██║██╔══██╗   ██║   ██╔══╝   ██╔██╗
╚██████╗╚██████╔╝██║  ██║   ██║   ███████╗██╔╝ ██╗
 ╚═════╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝
`
