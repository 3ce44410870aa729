// Package introspect provides read-only HTTP handlers for inspecting
// a running simulation: overall status, per-router RIB views, and
// forwarding-path queries.
package introspect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/netlab/bgpsim/internal/metrics"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/persist"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/topology"
)

// Handler holds the dependencies for the introspection endpoints.
type Handler struct {
	Version string
	Network *network.Network
	Metrics *metrics.Metrics
}

// NewHandler creates a new introspection handler.
func NewHandler(version string, n *network.Network, m *metrics.Metrics) *Handler {
	return &Handler{Version: version, Network: n, Metrics: m}
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterCount   int    `json:"router_count"`
	KnownPrefixes int    `json:"known_prefixes"`
}

// ErrorResponse is the response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// HandleStatus handles GET /status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       h.Version,
		RouterCount:   len(h.Network.RouterIDs()),
		KnownPrefixes: len(h.Network.KnownPrefixes()),
	})
}

// RouteResponse is the response for the /route endpoint.
type RouteResponse struct {
	Router int    `json:"router"`
	Prefix string `json:"prefix"`
	Hops   []int  `json:"hops"`
	Error  string `json:"error,omitempty"`
}

// HandleRoute handles GET /route?router=<id>&prefix=<kind>:<value>.
//
// prefix accepts "singleton", "flat:<n>", or "cidr:<cidr-string>".
func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	router, err := parseRouterID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := parsePrefixParam(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	hops, routeErr := h.Network.GetRoute(router, p)
	resp := RouteResponse{Router: int(router), Prefix: p.String(), Hops: toIntSlice(hops)}
	if routeErr != nil {
		resp.Error = routeErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// RIBEntryResponse is one prefix's route in a RIB listing.
type RIBEntryResponse struct {
	Prefix    string   `json:"prefix"`
	NextHop   int      `json:"next_hop"`
	ASPath    []uint32 `json:"as_path"`
	LocalPref int      `json:"local_pref"`
	MED       int      `json:"med"`
	Origin    string   `json:"origin"`
}

func toRIBEntryResponse(p prefix.Key, rt route.Route) RIBEntryResponse {
	asPath := make([]uint32, len(rt.ASPath))
	for i, asn := range rt.ASPath {
		asPath[i] = uint32(asn)
	}
	return RIBEntryResponse{
		Prefix:    p.String(),
		NextHop:   int(rt.NextHop),
		ASPath:    asPath,
		LocalPref: rt.LocalPref,
		MED:       rt.MED,
		Origin:    originString(rt.Origin),
	}
}

func originString(o route.Origin) string {
	switch o {
	case route.OriginIGP:
		return "igp"
	case route.OriginEGP:
		return "egp"
	default:
		return "incomplete"
	}
}

// HandleRIB handles GET /rib?router=<id>&view=local|in|out[&peer=<id>].
func (h *Handler) HandleRIB(w http.ResponseWriter, r *http.Request) {
	router, err := parseRouterID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view := r.URL.Query().Get("view")
	if view == "" {
		view = "local"
	}

	var peer topology.RouterID
	if view == "in" || view == "out" {
		peer, err = parseIDParam(r.URL.Query().Get("peer"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	entries := make([]RIBEntryResponse, 0)
	for _, p := range h.Network.KnownPrefixes() {
		var (
			rt    route.Route
			found bool
			gerr  error
		)
		switch view {
		case "in":
			rt, found, gerr = h.Network.GetRIBIn(router, peer, p)
		case "out":
			rt, found, gerr = h.Network.GetRIBOut(router, peer, p)
		default:
			rt, found, gerr = h.Network.GetLocalRIB(router, p)
		}
		if gerr != nil {
			writeError(w, http.StatusBadRequest, gerr)
			return
		}
		if found {
			entries = append(entries, toRIBEntryResponse(p, rt))
		}
	}

	writeJSON(w, http.StatusOK, entries)
}

// HandleMetrics handles GET /metrics (Prometheus exposition format).
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.Metrics.Handler().ServeHTTP(w, r)
}

func parseRouterID(r *http.Request) (topology.RouterID, error) {
	return parseIDParam(r.URL.Query().Get("router"))
}

func parseIDParam(s string) (topology.RouterID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid router id %q: %w", s, err)
	}
	return topology.RouterID(n), nil
}

// parsePrefixParam parses "singleton", "flat:<n>", or "cidr:<cidr>"
// into a prefix.Key, reusing persist's tagged-union prefix decoder.
func parsePrefixParam(s string) (prefix.Key, error) {
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

func toIntSlice(ids []topology.RouterID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
