package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds configuration read from FIBERSTATE_* environment variables.
type EnvConfig struct {
	// ArenaLimit caps bytes mapped for tables and cells; 0 is unlimited.
	ArenaLimit int `env:"FIBERSTATE_ARENA_LIMIT" envDefault:"0"`
	ArenaChunk int `env:"FIBERSTATE_ARENA_CHUNK" envDefault:"65536"`

	Descriptor string `env:"FIBERSTATE_DESCRIPTOR"`
	BPFPin     string `env:"FIBERSTATE_BPF_PIN"`
	Attributes string `env:"FIBERSTATE_ATTRIBUTES"`

	LogLevel  string `env:"FIBERSTATE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FIBERSTATE_LOG_FORMAT" envDefault:"console"`
}

// ParseEnv reads EnvConfig from the environment.
func ParseEnv() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	if cfg.ArenaLimit < 0 || cfg.ArenaChunk <= 0 {
		return nil, fmt.Errorf("invalid arena sizing: limit %d chunk %d", cfg.ArenaLimit, cfg.ArenaChunk)
	}
	return &cfg, nil
}
