package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
		"server": {
			"listen": ":9090",
			"readTimeout": 15,
			"writeTimeout": 15,
			"idleTimeout": 60
		},
		"simulation": {
			"eventBudget": 500,
			"queueVariant": "priority",
			"damping": {"failureThreshold": 3, "successThreshold": 2, "openTicks": 20}
		},
		"scenario": {"path": "/tmp/scenario.json"},
		"log": {"level": "debug", "format": "json"}
	}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("Expected listen :9090, got %s", cfg.Server.Listen)
	}
	if cfg.Simulation.EventBudget != 500 {
		t.Errorf("Expected event budget 500, got %d", cfg.Simulation.EventBudget)
	}
	if cfg.Simulation.QueueVariant != "priority" {
		t.Errorf("Expected queue variant priority, got %s", cfg.Simulation.QueueVariant)
	}
	if cfg.Simulation.Damping.FailureThreshold != 3 {
		t.Errorf("Expected failure threshold 3, got %d", cfg.Simulation.Damping.FailureThreshold)
	}
	if cfg.Scenario.Path != "/tmp/scenario.json" {
		t.Errorf("Expected scenario path /tmp/scenario.json, got %s", cfg.Scenario.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{"scenario": {"path": "topo.json"}}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Listen != ":8080" {
		t.Errorf("Expected default listen :8080, got %s", cfg.Server.Listen)
	}
	if cfg.Simulation.EventBudget != 10000 {
		t.Errorf("Expected default event budget 10000, got %d", cfg.Simulation.EventBudget)
	}
	if cfg.Simulation.QueueVariant != "fifo" {
		t.Errorf("Expected default queue variant fifo, got %s", cfg.Simulation.QueueVariant)
	}
	if cfg.Simulation.Damping.OpenTicks != 50 {
		t.Errorf("Expected default open ticks 50, got %d", cfg.Simulation.Damping.OpenTicks)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
