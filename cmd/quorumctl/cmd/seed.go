package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/trackers/local"
)

var seedCmd = &cobra.Command{
	Use:   "seed <parent-id> <parent-identifier> <parent-title> <tasks.json>",
	Short: "Load a static sub-task list into the local sqlite tracker",
	Long: `Reads a JSON array of sub-task payloads from tasks.json and inserts them
under the given parent in the local tracker's database, for running the
orchestrator without a reachable issue-tracking service.`,
	Args: cobra.ExactArgs(4),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedPayload struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	BranchName string   `json:"branchName"`
	BlockedBy  []string `json:"blockedBy"`
}

func runSeed(c *cobra.Command, args []string) error {
	parentID, parentIdentifier, parentTitle, path := args[0], args[1], args[2], args[3]

	raw, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var payloads []seedPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	loader := config.NewLoader()
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := local.Open(cfg.Tracker.Local.DBPath)
	if err != nil {
		return fmt.Errorf("opening local tracker: %w", err)
	}
	defer client.Close()

	subTasks := make([]core.SubTaskPayload, 0, len(payloads))
	for _, p := range payloads {
		blockedBy := make([]core.BlockerRef, 0, len(p.BlockedBy))
		for _, b := range p.BlockedBy {
			blockedBy = append(blockedBy, core.BlockerRef{ID: b, Identifier: b})
		}
		subTasks = append(subTasks, core.SubTaskPayload{
			ID: p.ID, Identifier: p.Identifier, Title: p.Title, Status: p.Status,
			BranchName: p.BranchName, BlockedBy: blockedBy,
		})
	}

	if err := local.Seed(context.Background(), client, parentID, parentIdentifier, parentTitle, subTasks); err != nil {
		return fmt.Errorf("seeding local tracker: %w", err)
	}
	fmt.Fprintf(c.OutOrStdout(), "seeded %d sub-task(s) under %s\n", len(subTasks), parentIdentifier)
	return nil
}
