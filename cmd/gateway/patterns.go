package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/graph"
)

// exportPatterns writes every edge currently in eng to path as JSON so it
// can be transferred to another gateway instance (spec.md §4.5, §8).
func exportPatterns(eng *graph.Engine, path string) error {
	edges := eng.ExportPatterns()
	data, err := json.MarshalIndent(edges, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// importPatterns reads edges from path and applies them to eng under
// strategy ("merge" or "replace").
func importPatterns(ctx context.Context, eng *graph.Engine, path string, strategy graph.ImportStrategy) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var edges []domain.Edge
	if err := json.Unmarshal(data, &edges); err != nil {
		return fmt.Errorf("unmarshal patterns: %w", err)
	}
	if strategy != graph.StrategyReplace && strategy != graph.StrategyMerge {
		return fmt.Errorf("unknown import strategy %q", strategy)
	}
	return eng.ImportPatterns(ctx, edges, strategy)
}
