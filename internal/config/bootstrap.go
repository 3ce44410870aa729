// Package config provides simulator configuration loading, with a
// fallback to a small built-in scenario when no scenario file is given.
package config

import (
	"fmt"
	"log"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/metrics"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/persist"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/router"
	"github.com/netlab/bgpsim/internal/routemap"
	"github.com/netlab/bgpsim/internal/topology"
)

// LoadScenario loads the simulator config from path and builds the
// *network.Network it describes. If the config names no scenario file,
// or the named file cannot be loaded, it falls back to a small built-in
// default scenario so the simulator always has something to run. m, if
// non-nil, is wired into the returned network so its Simulate calls
// report to Prometheus; pass nil to build a network with no metrics.
func LoadScenario(path string, m *metrics.Metrics) (*Config, *network.Network, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	netCfg := network.Config{
		EventBudget: cfg.Simulation.EventBudget,
		Damping: flapdamp.Config{
			FailureThreshold: cfg.Simulation.Damping.FailureThreshold,
			SuccessThreshold: cfg.Simulation.Damping.SuccessThreshold,
			OpenTicks:        cfg.Simulation.Damping.OpenTicks,
		},
		Metrics: m,
	}

	if cfg.Scenario.Path == "" {
		log.Printf("[Config] No scenario file configured, loading built-in default scenario")
		return cfg, DefaultScenario(netCfg), nil
	}

	n, err := persist.LoadFile(cfg.Scenario.Path, newQueue(cfg.Simulation.QueueVariant), netCfg)
	if err != nil {
		log.Printf("[Config] Failed to load scenario %s (%v), falling back to built-in default scenario", cfg.Scenario.Path, err)
		return cfg, DefaultScenario(netCfg), nil
	}

	log.Printf("[Config] Loaded scenario from %s", cfg.Scenario.Path)
	return cfg, n, nil
}

// newQueue constructs the pending-event queue for the given variant
// name, defaulting to FIFO for an unrecognized value.
func newQueue(variant string) queue.Queue {
	switch variant {
	case "priority", "timed":
		return queue.NewTimed(func(_, _ topology.RouterID) float64 { return 1 })
	default:
		return queue.NewFIFO()
	}
}

// DefaultScenario builds a minimal two-AS, single-prefix topology: one
// internal router peering eBGP with one external advertiser. It exists
// so the simulator is never handed an empty network when no scenario
// file is configured.
func DefaultScenario(netCfg network.Config) *network.Network {
	n := network.New(queue.NewFIFO(), netCfg)

	r0 := n.AddRouter("r0", 65000)
	ext := n.AddExternalRouter("ext0", 65001)

	if err := n.AddLink(r0, ext, 1); err != nil {
		log.Printf("[Config] default scenario: AddLink failed: %v", err)
		return n
	}

	permitAll := routemap.Map{{Match: routemap.Always{}, Action: routemap.Permit}}
	if err := n.SetBGPSession(r0, ext, router.EBGP, permitAll, permitAll); err != nil {
		log.Printf("[Config] default scenario: SetBGPSession failed: %v", err)
		return n
	}

	if err := n.AdvertiseExternalRoute(ext, prefix.Flat(0), []route.ASN{65001}, 0, nil); err != nil {
		log.Printf("[Config] default scenario: AdvertiseExternalRoute failed: %v", err)
	}

	return n
}
