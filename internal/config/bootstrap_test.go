package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/persist"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/router"
	"github.com/netlab/bgpsim/internal/routemap"
)

func TestLoadScenarioFallsBackWithoutScenarioPath(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configFile, []byte(`{"server":{"listen":":8080"}}`), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, n, err := LoadScenario(configFile, nil)
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	if cfg.Scenario.Path != "" {
		t.Errorf("expected empty scenario path, got %s", cfg.Scenario.Path)
	}
	if n == nil {
		t.Fatal("expected a non-nil default network")
	}
	if ids := n.RouterIDs(); len(ids) == 0 {
		t.Error("expected the default scenario to have at least one router")
	}
}

func TestLoadScenarioFallsBackOnUnreadableScenario(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	content := `{"scenario":{"path":"` + filepath.Join(tmpDir, "missing.json") + `"}}`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, n, err := LoadScenario(configFile, nil)
	if err != nil {
		t.Fatalf("LoadScenario should fall back rather than error: %v", err)
	}
	if n == nil {
		t.Fatal("expected a non-nil fallback network")
	}
}

func TestLoadScenarioLoadsNamedFile(t *testing.T) {
	tmpDir := t.TempDir()
	scenarioFile := filepath.Join(tmpDir, "scenario.json")

	built := network.New(queue.NewFIFO(), network.Config{EventBudget: 100, Damping: flapdamp.DefaultConfig()})
	r0 := built.AddRouter("r0", 100)
	ext := built.AddExternalRouter("ext", 200)
	if err := built.AddLink(r0, ext, 1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	permitAll := routemap.Map{{Match: routemap.Always{}, Action: routemap.Permit}}
	if err := built.SetBGPSession(r0, ext, router.EBGP, permitAll, permitAll); err != nil {
		t.Fatalf("SetBGPSession: %v", err)
	}
	if err := persist.SaveFile(scenarioFile, built); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	configFile := filepath.Join(tmpDir, "config.json")
	content := `{"scenario":{"path":"` + scenarioFile + `"}}`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, n, err := LoadScenario(configFile, nil)
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	if cfg.Scenario.Path != scenarioFile {
		t.Errorf("expected scenario path %s, got %s", scenarioFile, cfg.Scenario.Path)
	}
	if len(n.RouterIDs()) != 2 {
		t.Errorf("expected 2 routers loaded from scenario, got %d", len(n.RouterIDs()))
	}
}

func TestLoadScenarioMissingConfigErrors(t *testing.T) {
	if _, _, err := LoadScenario("/nonexistent/path/config.json", nil); err == nil {
		t.Error("expected error for non-existent config file")
	}
}
