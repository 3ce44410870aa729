package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/netlab/bgpsim/internal/flapdamp"
	"github.com/netlab/bgpsim/internal/metrics"
	"github.com/netlab/bgpsim/internal/network"
	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/queue"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/router"
	"github.com/netlab/bgpsim/internal/routemap"
)

func buildTestHandler(t *testing.T) (*Handler, int, int) {
	t.Helper()
	n := network.New(queue.NewFIFO(), network.Config{EventBudget: 1000, Damping: flapdamp.DefaultConfig()})
	r0 := n.AddRouter("r0", 100)
	ext := n.AddExternalRouter("ext", 200)
	if err := n.AddLink(r0, ext, 1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	permitAll := routemap.Map{{Match: routemap.Always{}, Action: routemap.Permit}}
	if err := n.SetBGPSession(r0, ext, router.EBGP, permitAll, permitAll); err != nil {
		t.Fatalf("SetBGPSession: %v", err)
	}
	if err := n.AdvertiseExternalRoute(ext, prefix.Flat(1), []route.ASN{200}, 0, nil); err != nil {
		t.Fatalf("AdvertiseExternalRoute: %v", err)
	}
	return NewHandler("test", n, metrics.New()), int(r0), int(ext)
}

func TestHandleStatus(t *testing.T) {
	h, _, _ := buildTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RouterCount != 2 {
		t.Errorf("expected 2 routers, got %d", resp.RouterCount)
	}
	if resp.KnownPrefixes != 1 {
		t.Errorf("expected 1 known prefix, got %d", resp.KnownPrefixes)
	}
}

func TestHandleRouteSuccess(t *testing.T) {
	h, r0, _ := buildTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/route?router=0&prefix=flat:1", nil)
	req = withQuery(req, "router", itoa(r0))
	rec := httptest.NewRecorder()
	h.HandleRoute(rec, req)

	var resp RouteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "" {
		t.Errorf("expected no error, got %s", resp.Error)
	}
	if len(resp.Hops) == 0 {
		t.Error("expected at least one hop")
	}
}

func TestHandleRouteInvalidPrefix(t *testing.T) {
	h, r0, _ := buildTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/route?prefix=bogus", nil)
	req = withQuery(req, "router", itoa(r0))
	rec := httptest.NewRecorder()
	h.HandleRoute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unrecognized prefix kind, got %d", rec.Code)
	}
}

func TestHandleRIBLocalView(t *testing.T) {
	h, r0, _ := buildTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/rib", nil)
	req = withQuery(req, "router", itoa(r0))
	rec := httptest.NewRecorder()
	h.HandleRIB(rec, req)

	var entries []RIBEntryResponse
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 RIB entry, got %d", len(entries))
	}
	if entries[0].Prefix != "p1" {
		t.Errorf("expected prefix p1, got %s", entries[0].Prefix)
	}
}

func TestHandleMetrics(t *testing.T) {
	h, _, _ := buildTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.HandleMetrics(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func withQuery(req *http.Request, key, value string) *http.Request {
	q := req.URL.Query()
	q.Set(key, value)
	req.URL.RawQuery = q.Encode()
	return req
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
