package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/syncpush"
)

var syncCmd = &cobra.Command{
	Use:   "sync <parent-identifier>",
	Short: "Push one parent's pending-update queue against its tracker backend",
	Long: `The orchestrator loop already drains pending updates as it runs. sync
exists for out-of-band retries: updates that failed to push (network
blip, expired credentials) stay queued with their error stamped, and a
later sync sweep retries them without re-running the whole loop.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, args []string) error {
	parentIdentifier := args[0]

	loader := config.NewLoader()
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	port, err := buildTracker(cfg)
	if err != nil {
		return err
	}

	pusher := syncpush.New(cfg.Orchestrator.BaseDir, port, logger)
	result, err := pusher.Push(context.Background(), parentIdentifier)
	if err != nil {
		return fmt.Errorf("pushing pending updates for %s: %w", parentIdentifier, err)
	}
	logger.Info("pending-update sync complete", "parent_identifier", parentIdentifier, "pushed", result.Pushed, "failed", result.Failed)
	return nil
}
