package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tangram/internal/config"
	"tangram/internal/store"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "run garbage collection against the daemon's object store offline",
	Long: `clean mirrors POST /v1/clean but runs against the store directly, for
use when the daemon isn't running (spec §6). It acquires the same advisory
lock the daemon does, so it refuses to run concurrently with a live serve.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(store.Paths(cfg.Paths()), cfg.FDBudget)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	roots, err := s.AssignmentRoots(ctx)
	if err != nil {
		return fmt.Errorf("list assignment roots: %w", err)
	}
	deleted, err := s.Clean(ctx, roots)
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	log.Info("clean complete", zap.Int("deleted", deleted), zap.Int("live_roots", len(roots)))
	fmt.Printf("deleted %d objects\n", deleted)
	return nil
}
