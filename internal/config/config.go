// Package config loads orchestrator settings from flags, environment
// variables, and an optional YAML file, following the same
// flags > env > project file > defaults precedence the rest of the
// product line uses.
package config

import "time"

// Config holds the orchestrator's runtime-tunable settings. Unlike the
// full product's configuration surface (agent phase models, prompt
// tuning, consensus thresholds, and the like), this is deliberately
// narrow: only the knobs the engine's scheduling loop itself consults.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Log          LogConfig          `mapstructure:"log"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	API          APIConfig          `mapstructure:"api"`
}

// OrchestratorConfig configures the scheduling loop (C8).
type OrchestratorConfig struct {
	MaxParallelAgents   int           `mapstructure:"max_parallel_agents"`
	MaxRetries          int           `mapstructure:"max_retries"`
	VerificationTimeout time.Duration `mapstructure:"verification_timeout"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	BaseDir             string        `mapstructure:"base_dir"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackerConfig selects and configures the Tracker Port backend.
type TrackerConfig struct {
	Backend string       `mapstructure:"backend"` // linear, github, local
	Linear  LinearConfig `mapstructure:"linear"`
	GitHub  GitHubConfig `mapstructure:"github"`
	Local   LocalConfig  `mapstructure:"local"`
}

// LinearConfig configures tracker A.
type LinearConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// GitHubConfig configures tracker B.
type GitHubConfig struct {
	Repo string `mapstructure:"repo"` // "<owner>/<name>"
}

// LocalConfig configures tracker C.
type LocalConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// APIConfig configures the optional read-only dashboard surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}
