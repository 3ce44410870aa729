package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the simulator configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Simulation SimulationConfig `json:"simulation"`
	Scenario   ScenarioConfig   `json:"scenario"`
	Log        LogConfig        `json:"log"`
}

// ServerConfig contains introspection HTTP server settings.
type ServerConfig struct {
	Listen       string `json:"listen"`
	ReadTimeout  int    `json:"readTimeout"`
	WriteTimeout int    `json:"writeTimeout"`
	IdleTimeout  int    `json:"idleTimeout"`
}

// SimulationConfig controls the event-driven engine and flap damping.
type SimulationConfig struct {
	EventBudget int `json:"eventBudget"`
	// QueueVariant selects the pending-event queue discipline: "fifo" or
	// "priority".
	QueueVariant string `json:"queueVariant"`
	// Damping controls route flap suppression.
	Damping DampingConfig `json:"damping"`
}

// DampingConfig mirrors flapdamp.Config in JSON-friendly form.
type DampingConfig struct {
	FailureThreshold int   `json:"failureThreshold"`
	SuccessThreshold int   `json:"successThreshold"`
	OpenTicks        int64 `json:"openTicks"`
}

// ScenarioConfig locates the topology/session/advertisement document to
// load at startup.
type ScenarioConfig struct {
	Path string `json:"path"`
}

// LogConfig holds the logging settings. Load fills their defaults; no
// other code in the module reads them.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" or "json"
}

// Load loads configuration from a JSON file, filling in defaults for any
// zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120
	}
	if cfg.Simulation.EventBudget == 0 {
		cfg.Simulation.EventBudget = 10000
	}
	if cfg.Simulation.QueueVariant == "" {
		cfg.Simulation.QueueVariant = "fifo"
	}
	if cfg.Simulation.Damping.FailureThreshold == 0 {
		cfg.Simulation.Damping.FailureThreshold = 5
	}
	if cfg.Simulation.Damping.SuccessThreshold == 0 {
		cfg.Simulation.Damping.SuccessThreshold = 3
	}
	if cfg.Simulation.Damping.OpenTicks == 0 {
		cfg.Simulation.Damping.OpenTicks = 50
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
