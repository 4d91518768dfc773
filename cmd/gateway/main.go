// Command gateway wires the Storage Adapter, Graph Engine, Hybrid
// Retriever, DAG Suggester, Parallel Executor, Sandbox Bridge, Capability
// Store, Learning Loop, and Workflow Controller into one process, the way
// cmd/demo wires a runtime and a stub planner together: construct every
// collaborator, inject telemetry, and run until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpgw/gateway/internal/capability"
	"github.com/mcpgw/gateway/internal/config"
	"github.com/mcpgw/gateway/internal/dagsuggester"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/eventbus"
	"github.com/mcpgw/gateway/internal/executor"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/learning"
	"github.com/mcpgw/gateway/internal/mcpclient"
	"github.com/mcpgw/gateway/internal/retriever"
	"github.com/mcpgw/gateway/internal/sandbox"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/storage/postgres"
	"github.com/mcpgw/gateway/internal/telemetry"
	"github.com/mcpgw/gateway/internal/vectorindex"
	"github.com/mcpgw/gateway/internal/workflow"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the paths the root command's persistent flags populate;
// subcommands build their own component graph from it so "export-patterns"
// and "import-patterns" don't have to stand up a sandbox or executor they
// never use.
type app struct {
	envPath       string
	mcpServersCfg string
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Adaptive MCP workflow gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.envPath, "env", "", "path to a .env file to load (optional)")
	root.PersistentFlags().StringVar(&a.mcpServersCfg, "mcp-servers", "", "path to a JSON file describing MCP servers to register (optional)")

	root.AddCommand(a.serveCommand())
	root.AddCommand(a.exportPatternsCommand())
	root.AddCommand(a.importPatternsCommand())
	return root
}

// components bundles every wired collaborator a subcommand might need.
type components struct {
	cfg      config.Config
	logger   telemetry.Logger
	store    storage.Adapter
	bus      *eventbus.Bus
	graph    *graph.Engine
	registry *mcpclient.Registry
}

func (a *app) build(ctx context.Context) (*components, error) {
	cfg, err := config.Load(a.envPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build storage adapter: %w", err)
	}

	bus := eventbus.New()
	eng := graph.New(store, graph.WithBus(bus), graph.WithLogger(logger))
	if err := eng.SyncFromStorage(ctx); err != nil {
		logger.Warn(ctx, "graph: could not sync from storage at startup", "error", err)
	}

	registry := mcpclient.NewRegistry()
	if a.mcpServersCfg != "" {
		if err := registerMCPServers(ctx, registry, a.mcpServersCfg); err != nil {
			return nil, fmt.Errorf("register mcp servers: %w", err)
		}
	}

	return &components{cfg: cfg, logger: logger, store: store, bus: bus, graph: eng, registry: registry}, nil
}

// newStore picks the Postgres+pgvector adapter when a DSN is configured and
// falls back to the in-memory adapter otherwise, so "gateway serve" works
// out of the box against no external dependencies.
func newStore(ctx context.Context, cfg config.Config) (storage.Adapter, error) {
	if cfg.PostgresDSN == "" {
		return memstore.New(), nil
	}
	return postgres.New(ctx, postgres.Options{ConnString: cfg.PostgresDSN, Schema: cfg.PostgresSchema})
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.build(ctx)
			if err != nil {
				return err
			}

			// The Controller is the single entry point a frontend would call
			// Run on; serve's job here is keeping the wired graph, executor,
			// and sandbox alive and ready for that frontend to attach to.
			_ = buildController(c)

			c.logger.Info(ctx, "gateway: serving", "storage", fmt.Sprintf("%T", c.store))
			<-ctx.Done()
			c.logger.Info(ctx, "gateway: shutting down")
			return nil
		},
	}
}

// buildController assembles the full retrieval/suggestion/execution/
// learning chain behind the Workflow Controller's single Run entry point.
func buildController(c *components) *workflow.Controller {
	embedder := embedding.NewLocal(c.cfg.EmbeddingDimension)
	idx := vectorindex.New(embedder, c.store)
	r := retriever.New(idx, c.graph)
	suggester := dagsuggester.New(r, idx, c.graph)

	sbx := sandbox.New(c.cfg.SandboxWorkerPath, c.cfg.WorkspaceRoot, c.registry)
	exec := executor.New(c.registry, sbx, c.store,
		executor.WithBus(c.bus),
		executor.WithLogger(c.logger),
		executor.WithLayerConcurrency(c.cfg.LayerConcurrency),
	)

	caps := capability.New(c.store, embedder)
	loop := learning.New(c.graph, caps, learning.WithLogger(c.logger))

	return workflow.New(suggester, caps, exec, sbx, c.graph, loop, c.store, workflow.WithLogger(c.logger))
}

func (a *app) exportPatternsCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-patterns",
		Short: "Write the graph's learned edges to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			return exportPatterns(c.graph, out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "patterns.json", "output file for exported patterns")
	return cmd
}

func (a *app) importPatternsCommand() *cobra.Command {
	var in string
	var strategy string
	cmd := &cobra.Command{
		Use:   "import-patterns",
		Short: "Merge or replace the graph's edges from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			return importPatterns(ctx, c.graph, in, graph.ImportStrategy(strategy))
		},
	}
	cmd.Flags().StringVar(&in, "in", "patterns.json", "input file of patterns to import")
	cmd.Flags().StringVar(&strategy, "strategy", string(graph.StrategyMerge), "import strategy: merge or replace")
	return cmd
}
