package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cortexhq/cortex/core/db"
	"github.com/joho/godotenv"
)

func hostnameOrFallback(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

// ServiceType distinguishes which binary is loading configuration, since the
// server and worker only need a subset of the full settings surface.
type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Config holds all application configuration.
type Config struct {
	Env         string
	ServiceType ServiceType
	Port        string
	AdminAPIKey string

	DB        db.Config
	OTel      OTelConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Retriever RetrieverConfig
	Budgets   BudgetConfig
	Approval  ApprovalConfig
}

// OTelConfig configures the OTLP exporters. Enabled() gates common/otel.Setup
// and common/logger.Setup on a configured endpoint.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// RedisConfig backs the asynchronous answer-job queue (internal/queue) and
// its dead-letter stream.
type RedisConfig struct {
	URL             string
	Stream          string
	DLQStream       string
	ConsumerGroup   string
	ConsumerName    string
	TraceHeaderName string
}

// LLMConfig selects and configures the AgentClient backend used by the
// Composer, the uncertainty estimator's paraphrase sampler, and the
// model-backed verifier supplement.
type LLMConfig struct {
	Provider string // "openai" | "anthropic" | "" (no model, deterministic fallbacks only)
	APIKey   string
	BaseURL  string
	Model    string
}

func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.APIKey != ""
}

// RetrieverConfig holds process-wide retriever defaults; per-workspace
// overrides come from the policy overlay (internal/policy).
type RetrieverConfig struct {
	TypesenseURL        string
	TypesenseAPIKey     string
	TypesenseCollection string
	DefaultMemoryBudget int
	WeightSparse        float64
	WeightDense         float64
	WeightEntity        float64
	SnippetMaxChars     int
}

// BudgetConfig holds process-wide refinement-loop budget defaults,
// overridable per workspace policy.
type BudgetConfig struct {
	MaxRefinements          int
	ToolBudgetPerTurn       int
	ToolBudgetPerRefinement int
	LatencyBudget           time.Duration
	AcceptThreshold         float64
	BorderlineDelta         float64
}

// ApprovalConfig holds the default TTL and sweep cadence for the process-wide
// approval store.
type ApprovalConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// Load loads configuration from environment variables, providing sensible
// defaults for local development. A .env file is loaded first if present
// (godotenv).
func Load(svc ServiceType) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:         getEnv("CORTEX_ENV", "development"),
		ServiceType: svc,
		Port:        getEnv("PORT", "8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "cortex-"+string(svc)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Stream:          getEnv("REDIS_STREAM", "cortex:answers"),
			DLQStream:       getEnv("REDIS_DLQ_STREAM", "cortex:answers:dlq"),
			ConsumerGroup:   getEnv("REDIS_CONSUMER_GROUP", "cortex-workers"),
			ConsumerName:    getEnv("REDIS_CONSUMER_NAME", hostnameOrFallback("cortex-worker-1")),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			Model:    getEnv("LLM_MODEL", ""),
		},
		Retriever: RetrieverConfig{
			TypesenseURL:        getEnv("TYPESENSE_URL", ""),
			TypesenseAPIKey:     getEnv("TYPESENSE_API_KEY", ""),
			TypesenseCollection: getEnv("TYPESENSE_COLLECTION", "evidence"),
			DefaultMemoryBudget: getEnvInt("RETRIEVER_MEMORY_BUDGET", 8),
			WeightSparse:        getEnvFloat("RETRIEVER_WEIGHT_SPARSE", 0.4),
			WeightDense:         getEnvFloat("RETRIEVER_WEIGHT_DENSE", 0.45),
			WeightEntity:        getEnvFloat("RETRIEVER_WEIGHT_ENTITY", 0.15),
			SnippetMaxChars:     getEnvInt("RETRIEVER_SNIPPET_MAX_CHARS", 480),
		},
		Budgets: BudgetConfig{
			MaxRefinements:          getEnvInt("BUDGET_MAX_REFINEMENTS", 2),
			ToolBudgetPerTurn:       getEnvInt("BUDGET_TOOL_PER_TURN", 4),
			ToolBudgetPerRefinement: getEnvInt("BUDGET_TOOL_PER_REFINEMENT", 2),
			LatencyBudget:           time.Duration(getEnvInt("BUDGET_LATENCY_MS", 30000)) * time.Millisecond,
			AcceptThreshold:         getEnvFloat("DECISION_ACCEPT_THRESHOLD", 0.7),
			BorderlineDelta:         getEnvFloat("DECISION_BORDERLINE_DELTA", 0.1),
		},
		Approval: ApprovalConfig{
			DefaultTTL:    time.Duration(getEnvInt("APPROVAL_TTL_MINUTES", 30)) * time.Minute,
			SweepInterval: time.Duration(getEnvInt("APPROVAL_SWEEP_SECONDS", 30)) * time.Second,
		},
	}

	if cfg.DB.DSN == "" {
		return Config{}, fmt.Errorf("database DSN resolved empty")
	}

	return cfg, nil
}

func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "cortex")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
