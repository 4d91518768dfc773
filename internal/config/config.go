// Package config loads the gateway's environment-driven configuration,
// following the getEnv-with-default plus godotenv.Load idiom used across
// the example pack's service entrypoints.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	// PostgresDSN is the DSN for the Storage Adapter's Postgres+pgvector
	// backend; an empty value selects the in-memory adapter.
	PostgresDSN string
	// PostgresSchema is the schema all tables are created under.
	PostgresSchema string

	// RedisURL backs the Event Bus's pub/sub stream when configured; an
	// empty value keeps the gateway on its in-process Event Bus only.
	RedisURL string

	// SandboxWorkerPath is the path to the sandbox worker binary the
	// Sandbox Bridge spawns per code-execution task.
	SandboxWorkerPath string
	// WorkspaceRoot is the directory sandboxed code and its file tool
	// calls are confined to.
	WorkspaceRoot string

	// LayerConcurrency caps concurrent tasks within one Parallel Executor
	// layer (spec.md §5 reference 16).
	LayerConcurrency int
	// SandboxMaxInFlightRPCs caps concurrent RPCs in flight inside one
	// sandbox session (spec.md §5 reference 8).
	SandboxMaxInFlightRPCs int

	// RPCTimeout bounds a single sandbox RPC.
	RPCTimeout time.Duration
	// TaskTimeout bounds a single task's total execution time.
	TaskTimeout time.Duration
	// WorkflowTimeout bounds an entire workflow run.
	WorkflowTimeout time.Duration

	// EmbeddingDimension is the vector width produced by the Embedding Port.
	EmbeddingDimension int

	// CapabilityMinThreshold is the default FindMatch threshold (spec.md
	// §4.7 reference 0.85); <=0 falls back to the Capability Store's own
	// default.
	CapabilityMinThreshold float64

	// LogLevel controls the structured logger's verbosity ("debug",
	// "info", "warn", "error").
	LogLevel string
}

// Load reads .env from envPath (if present) into the process environment,
// then builds a Config from environment variables, applying the reference
// defaults from spec.md where a variable is unset. envPath may be empty,
// in which case no .env file is loaded.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("config: could not load %s: %v (continuing with existing environment)", envPath, err)
		}
	}

	layerConcurrency, err := getEnvInt("LAYER_CONCURRENCY", 16)
	if err != nil {
		return Config{}, err
	}
	sandboxMaxRPCs, err := getEnvInt("SANDBOX_MAX_INFLIGHT_RPCS", 8)
	if err != nil {
		return Config{}, err
	}
	embeddingDim, err := getEnvInt("EMBEDDING_DIMENSION", 1024)
	if err != nil {
		return Config{}, err
	}
	rpcTimeout, err := getEnvDuration("SANDBOX_RPC_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	taskTimeout, err := getEnvDuration("TASK_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	workflowTimeout, err := getEnvDuration("WORKFLOW_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	capabilityThreshold, err := getEnvFloat("CAPABILITY_MIN_THRESHOLD", 0.85)
	if err != nil {
		return Config{}, err
	}

	return Config{
		PostgresDSN:            getEnv("POSTGRES_DSN", ""),
		PostgresSchema:         getEnv("POSTGRES_SCHEMA", "public"),
		RedisURL:               getEnv("REDIS_URL", ""),
		SandboxWorkerPath:      getEnv("SANDBOX_WORKER_PATH", "./bin/sandbox-worker"),
		WorkspaceRoot:          getEnv("WORKSPACE_ROOT", "./workspace"),
		LayerConcurrency:       layerConcurrency,
		SandboxMaxInFlightRPCs: sandboxMaxRPCs,
		RPCTimeout:             rpcTimeout,
		TaskTimeout:            taskTimeout,
		WorkflowTimeout:        workflowTimeout,
		EmbeddingDimension:     embeddingDim,
		CapabilityMinThreshold: capabilityThreshold,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return d, nil
}
