package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

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
	"github.com/cortexhq/cortex/internal/metrics"
	"github.com/cortexhq/cortex/internal/policy"
	"github.com/cortexhq/cortex/internal/queue"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/retriever/dense"
	"github.com/cortexhq/cortex/internal/retriever/entity"
	"github.com/cortexhq/cortex/internal/retriever/lexical"
	"github.com/cortexhq/cortex/internal/tools/websearch"
	"github.com/cortexhq/cortex/internal/uncertainty"
	"github.com/cortexhq/cortex/internal/verifier"
	"github.com/cortexhq/cortex/internal/worker"
)

// maxAttempts bounds how many times an async answer job is requeued before
// it is dead-lettered.
const maxAttempts = 3

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "cortex worker starting",
		"env", cfg.Env,
		"stream", cfg.Redis.Stream,
		"consumer_group", cfg.Redis.ConsumerGroup,
		"consumer_name", cfg.Redis.ConsumerName)

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	pool := database.Pool()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Redis.Stream,
		Group:        cfg.Redis.ConsumerGroup,
		Consumer:     cfg.Redis.ConsumerName,
		DLQStream:    cfg.Redis.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  maxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
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
		Fuser:          fuser,
		Composer:       comp,
		Estimator:      estimator,
		Verifier:       verif,
		DecisionHead:   decisionHead,
		Calibration:    calibrationStore,
		Audit:          auditStore,
		Approvals:      approvalStore,
		Policies:       policyStore,
		Metrics:        metricsRegistry,
		WebSearch:      websearch.NullBackend{},
		TableQueryPool: pool,
		Budgets: engine.Budgets{
			MaxRefinements:        cfg.Budgets.MaxRefinements,
			WallClockBudget:       cfg.Budgets.LatencyBudget,
			MinCalibrationSamples: 30,
		},
	})

	processor := worker.NewAnswerProcessor(eng)

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Redis.Stream,
		Group:     cfg.Redis.ConsumerGroup,
		Consumer:  cfg.Redis.ConsumerName + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, makeMessageProcessor(consumer, processor))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	go reclaimer.Run(runCtx)
	go runLoop(runCtx, &wg, consumer, processor)

	slog.InfoContext(ctx, "worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutdown signal received, initiating graceful shutdown...")
	cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		reclaimer.Stop()
		wg.Wait()
		close(shutdownComplete)
	}()

	shutdownTimeout := 30 * time.Second
	select {
	case <-shutdownComplete:
		slog.InfoContext(ctx, "graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		slog.WarnContext(ctx, "shutdown timeout exceeded, forcing exit", "timeout", shutdownTimeout)
	}

	stopSweep()
	approvalStore.Stop()

	if err := redisClient.Close(); err != nil {
		slog.ErrorContext(ctx, "redis close error", "error", err)
	}

	if telemetry != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 10*time.Second)
		defer cancelShutdown()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

// runLoop drains the stream until ctx is cancelled, dispatching each message
// through process and acking/requeueing/dead-lettering based on the result.
func runLoop(ctx context.Context, wg *sync.WaitGroup, consumer *queue.RedisConsumer, processor *worker.AnswerProcessor) {
	defer wg.Done()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "cortex.worker.loop"})
	slog.InfoContext(ctx, "worker loop started")

	process := makeMessageProcessor(consumer, processor)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "worker loop stopping")
			return
		default:
			messages, err := consumer.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.ErrorContext(ctx, "failed to read from stream", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, msg := range messages {
				if ctx.Err() != nil {
					return
				}

				msgCtx := logger.WithLogFields(ctx, logger.LogFields{
					RequestID: &msg.Job.RequestID,
					Workspace: &msg.Job.Workspace,
				})

				if err := process(msgCtx, msg); err != nil {
					slog.ErrorContext(msgCtx, "message processing failed", "error", err)
					handleFailure(msgCtx, consumer, msg, err)
				}
			}
		}
	}
}

// makeMessageProcessor adapts AnswerProcessor.Process into a
// queue.MessageProcessor that acks on success.
func makeMessageProcessor(consumer *queue.RedisConsumer, processor *worker.AnswerProcessor) queue.MessageProcessor {
	return func(ctx context.Context, msg queue.Message) error {
		if err := processor.Process(ctx, msg); err != nil {
			return err
		}
		if err := consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ack message", "error", err)
		}
		return nil
	}
}

func handleFailure(ctx context.Context, consumer *queue.RedisConsumer, msg queue.Message, err error) {
	willRequeue := msg.Attempt < maxAttempts
	willDLQ := !willRequeue

	slog.InfoContext(ctx, "handling message failure",
		"error", err,
		"attempt", msg.Attempt,
		"max_attempts", maxAttempts,
		"will_requeue", willRequeue,
		"will_dlq", willDLQ)

	if willDLQ {
		if dlqErr := consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	if requeueErr := consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue", "error", requeueErr)
	}
}

const banner = `
 ██████╗ ██████╗ ██████╗ ████████╗███████╗██╗  ██╗ █╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝██╔═══██╗██╔══██╗╚══██╔══╝██╔════╝╚██╗██╔╝ █║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║     ██║   ██║██████╔╝   ██║   █████╗   ╚███╔╝  █║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║     ██║   ██║██╔══██╗   ██║   ██╔══╝   ██╔██╗  █║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝██║  ██║   ██║   ███████╗██╔╝ ██╗ ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚═════╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝  ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
