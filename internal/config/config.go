// Package config loads the Manager daemon's runtime settings from the
// environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything managerd needs at startup. All fields are
// env-driven; there is no file-based config layer.
type Config struct {
	ListenAddr     string `envconfig:"MANAGER_LISTEN_ADDR" default:"0.0.0.0:8000"`
	ChallengesRoot string `envconfig:"MANAGER_CHALLENGES_ROOT" default:"./challenges"`
	ComposeCmd     string `envconfig:"MANAGER_COMPOSE_CMD" default:"docker-compose"`
	LogLevel       string `envconfig:"MANAGER_LOG_LEVEL" default:"info"`
}

// FromEnv populates a Config from the process environment, applying the
// defaults above for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("manager", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}
