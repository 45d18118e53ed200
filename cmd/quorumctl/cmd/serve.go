package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/api"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only runtime/pending-updates dashboard surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: config api.addr, or :8787)")
}

func runServe(_ *cobra.Command, _ []string) error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.API.Addr
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout})
	logger.Info("serving dashboard surface", "addr", addr, "base_dir", cfg.Orchestrator.BaseDir)
	return api.ListenAndServe(addr, cfg.Orchestrator.BaseDir, logger)
}
