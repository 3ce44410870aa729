package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/netlab/bgpsim/internal/config"
	"github.com/netlab/bgpsim/internal/introspect"
	"github.com/netlab/bgpsim/internal/metrics"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/persist"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/report"
	"github.com/netlab/bgpsim/internal/topology"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	serverSignature = "bgpsim"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configFile := flag.String("c", "config.json", "Path to configuration file")
	showVersion := flag.Bool("v", false, "Show version and exit")
	serve := flag.Bool("serve", false, "Serve the introspection HTTP API until terminated")
	routeQuery := flag.String("route", "", "Report the forwarding path for \"<router>:<prefix>\" and exit")
	ribQuery := flag.String("rib", "", "Report the local RIB for \"<router>\" and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (commit: %s, built: %s)\n", serverSignature, Version, Commit, BuildTime)
		os.Exit(0)
	}

	m := metrics.New()
	cfg, n, err := config.LoadScenario(*configFile, m)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("%s %s starting...", serverSignature, Version)
	log.Printf("  Routers: %d", len(n.RouterIDs()))
	log.Printf("  Known prefixes: %d", len(n.KnownPrefixes()))

	if err := n.Simulate(); err != nil {
		log.Printf("Warning: simulation did not converge: %v", err)
	}

	renderer, err := report.NewRenderer("", "")
	if err != nil {
		log.Fatalf("Failed to build report renderer: %v", err)
	}

	if *routeQuery != "" {
		if err := runRouteQuery(renderer, n, *routeQuery); err != nil {
			log.Fatalf("Route query failed: %v", err)
		}
		return
	}
	if *ribQuery != "" {
		if err := runRIBQuery(renderer, n, *ribQuery); err != nil {
			log.Fatalf("RIB query failed: %v", err)
		}
		return
	}

	if !*serve {
		return
	}

	handler := introspect.NewHandler(Version, n, m)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", handler.HandleStatus)
	mux.HandleFunc("/route", handler.HandleRoute)
	mux.HandleFunc("/rib", handler.HandleRIB)
	mux.HandleFunc("/metrics", handler.HandleMetrics)

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Introspection HTTP server starting on %s", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Shutdown signal received: %v", sig)
	case err := <-serverErr:
		log.Printf("HTTP server error: %v", err)
	case <-ctx.Done():
	}

	log.Println("Initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("%s stopped", serverSignature)
}

// runRouteQuery handles "-route <router>:<kind[:value]>", e.g.
// "0:flat:1" or "2:cidr:10.0.0.0/24", printing the forwarding path.
func runRouteQuery(r *report.Renderer, n *network.Network, query string) error {
	routerStr, prefixStr, ok := splitQuery(query)
	if !ok {
		return fmt.Errorf("expected \"<router>:<prefix>\", got %q", query)
	}
	router, err := atoiRouter(routerStr)
	if err != nil {
		return fmt.Errorf("invalid router id %q: %w", routerStr, err)
	}
	p, err := parsePrefixArg(prefixStr)
	if err != nil {
		return err
	}

	hops, routeErr := n.GetRoute(router, p)
	data := report.PathData{Router: routerStr, Prefix: p.String(), Hops: hopStrings(hops)}
	if routeErr != nil {
		data.Err = routeErr.Error()
	}

	out, err := r.RenderPath(data)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// runRIBQuery handles "-rib <router>", printing that router's local
// RIB for every known prefix.
func runRIBQuery(r *report.Renderer, n *network.Network, query string) error {
	router, err := atoiRouter(query)
	if err != nil {
		return fmt.Errorf("invalid router id %q: %w", query, err)
	}

	var entries []report.RIBEntry
	for _, p := range n.KnownPrefixes() {
		rt, found, err := n.GetLocalRIB(router, p)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		asPath := make([]string, len(rt.ASPath))
		for i, asn := range rt.ASPath {
			asPath[i] = strconv.Itoa(int(asn))
		}
		entries = append(entries, report.RIBEntry{
			Prefix:    p.String(),
			NextHop:   strconv.Itoa(int(rt.NextHop)),
			ASPath:    strings.Join(asPath, " "),
			LocalPref: rt.LocalPref,
			MED:       rt.MED,
			Best:      true,
		})
	}

	out, err := r.RenderRIB(report.RIBData{Router: query, View: "local", Entries: entries})
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func splitQuery(query string) (string, string, bool) {
	parts := strings.SplitN(query, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func atoiRouter(s string) (topology.RouterID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return topology.RouterID(n), nil
}

// parsePrefixArg parses "singleton", "flat:<n>", or "cidr:<cidr>".
func parsePrefixArg(s string) (prefix.Key, error) {
	kind, value, _ := strings.Cut(s, ":")
	doc := persist.PrefixDoc{Kind: kind}
	switch kind {
	case "flat":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid flat prefix %q: %w", s, err)
		}
		doc.Flat = n
	case "cidr":
		doc.CIDR = value
	}
	return persist.DecodePrefix(doc)
}

func hopStrings(hops []topology.RouterID) []string {
	out := make([]string, len(hops))
	for i, h := range hops {
		out[i] = strconv.Itoa(int(h))
	}
	return out
}
