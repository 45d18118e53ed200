package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/trackers/github"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/trackers/linear"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/trackers/local"
)

var runWorktree string

var runCmd = &cobra.Command{
	Use:   "run <parent-identifier>",
	Short: "Run the scheduling loop for one parent until a terminal exit condition",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrchestrator,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runWorktree, "worktree", ".", "shared working copy path passed to each agent invocation")
}

func runOrchestrator(_ *cobra.Command, args []string) error {
	parentIdentifier := args[0]

	loader := config.NewLoader()
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})

	port, err := buildTracker(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	parent, err := port.FetchParent(ctx, parentIdentifier)
	if err != nil {
		return fmt.Errorf("fetching parent %s: %w", parentIdentifier, err)
	}
	if parent == nil {
		return fmt.Errorf("parent %s not found", parentIdentifier)
	}
	subTasks, err := port.FetchSubTasks(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("fetching sub-tasks for %s: %w", parentIdentifier, err)
	}
	graph := core.BuildGraph(parent.ID, parent.Identifier, subTasks)

	loopCfg := orchestrator.Config{
		MaxParallelAgents:   cfg.Orchestrator.MaxParallelAgents,
		MaxRetries:          cfg.Orchestrator.MaxRetries,
		VerificationTimeout: cfg.Orchestrator.VerificationTimeout,
		AgentTimeout:        cfg.Orchestrator.AgentTimeout,
		MaxIterations:       cfg.Orchestrator.MaxIterations,
		BaseDir:             cfg.Orchestrator.BaseDir,
	}
	loop := orchestrator.New(loopCfg, parent.Identifier, runWorktree, port, logger)
	result := loop.Run(ctx, graph)

	logger.Info("orchestrator run finished",
		"reason", result.Reason, "iterations", result.Iters,
		"total", result.Summary.Total, "completed", result.Summary.Completed, "failed", result.Summary.Failed)

	if result.Reason == orchestrator.ExitPermanentFailure || result.Reason == orchestrator.ExitNoProgressBlocked {
		return fmt.Errorf("orchestrator exited with %s", result.Reason)
	}
	return nil
}

func buildTracker(cfg *config.Config) (core.TrackerPort, error) {
	switch cfg.Tracker.Backend {
	case "linear":
		return linear.New(cfg.Tracker.Linear.BaseURL, cfg.Tracker.Linear.APIKey), nil
	case "github":
		return github.New(cfg.Tracker.GitHub.Repo), nil
	case "local":
		return local.Open(cfg.Tracker.Local.DBPath)
	default:
		return nil, fmt.Errorf("unknown tracker backend %q", cfg.Tracker.Backend)
	}
}
