package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	mu         sync.Mutex
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "QUORUM"}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration with precedence (highest to lowest):
// 1. CLI flags (bound via viper.BindPFlag by the caller)
// 2. Environment variables (QUORUM_*)
// 3. Project config (.quorum-orch/config.yaml)
// 4. User config (~/.config/quorum-orch/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".quorum-orch")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "quorum-orch"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("orchestrator.max_parallel_agents", 3)
	l.v.SetDefault("orchestrator.max_retries", 2)
	l.v.SetDefault("orchestrator.verification_timeout", 10*time.Second)
	l.v.SetDefault("orchestrator.agent_timeout", 30*time.Minute)
	l.v.SetDefault("orchestrator.max_iterations", 100)
	l.v.SetDefault("orchestrator.base_dir", ".quorum-orch")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("tracker.backend", "local")
	l.v.SetDefault("tracker.local.db_path", ".quorum-orch/local.db")

	l.v.SetDefault("api.enabled", false)
	l.v.SetDefault("api.addr", ":8787")
}
