package orchestrator

import "time"

// Config parameterizes one orchestrator run.
type Config struct {
	MaxParallelAgents   int
	MaxRetries          int
	VerificationTimeout time.Duration
	AgentTimeout        time.Duration
	MaxIterations       int
	BaseDir             string
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelAgents:   3,
		MaxRetries:          2,
		VerificationTimeout: 10 * time.Second,
		AgentTimeout:        30 * time.Minute,
		MaxIterations:       100,
		BaseDir:             ".quorum-orch",
	}
}
