package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"POSTGRES_DSN", "POSTGRES_SCHEMA", "REDIS_URL", "SANDBOX_WORKER_PATH",
		"WORKSPACE_ROOT", "LAYER_CONCURRENCY", "SANDBOX_MAX_INFLIGHT_RPCS",
		"SANDBOX_RPC_TIMEOUT", "TASK_TIMEOUT", "WORKFLOW_TIMEOUT",
		"EMBEDDING_DIMENSION", "CAPABILITY_MIN_THRESHOLD", "LOG_LEVEL",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadAppliesReferenceDefaultsWhenUnset(t *testing.T) {
	clearGatewayEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 16, cfg.LayerConcurrency)
	require.Equal(t, 8, cfg.SandboxMaxInFlightRPCs)
	require.Equal(t, 1024, cfg.EmbeddingDimension)
	require.Equal(t, 10*time.Second, cfg.RPCTimeout)
	require.Equal(t, 0.85, cfg.CapabilityMinThreshold)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	clearGatewayEnv(t)
	require.NoError(t, os.Setenv("LAYER_CONCURRENCY", "4"))
	require.NoError(t, os.Setenv("LOG_LEVEL", "debug"))
	defer clearGatewayEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.LayerConcurrency)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedIntOverride(t *testing.T) {
	clearGatewayEnv(t)
	require.NoError(t, os.Setenv("LAYER_CONCURRENCY", "not-a-number"))
	defer clearGatewayEnv(t)

	_, err := Load("")
	require.Error(t, err)
}
