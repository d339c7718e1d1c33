package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mistral-air-map/pkg/measure"
	"mistral-air-map/pkg/orchestrator"
	"mistral-air-map/pkg/priority"
	"mistral-air-map/pkg/sources"
	"mistral-air-map/pkg/spiderfy"
)

func quiet(string, ...any) {}

// newTestServer wires a handler over an orchestrator fed by static
// capabilities.
func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()

	v := 30.0
	reg := sources.NewRegistry()
	reg.Register("ref", sources.CapabilityFunc(func(context.Context, sources.Request) ([]measure.Record, error) {
		return []measure.Record{
			{ID: "ref-1", Source: "ref", Pollutant: measure.PollutantPM10, Unit: "µg/m³", Value: &v, Lat: 43.7, Lon: 7.26},
			{ID: "ref-2", Source: "ref", Pollutant: measure.PollutantPM10, Unit: "µg/m³", Lat: 43.71, Lon: 7.27},
		}, nil
	}))
	reg.Register("signalair", sources.CapabilityFunc(func(context.Context, sources.Request) ([]measure.Record, error) {
		return []measure.Record{
			{ID: "r-1", Source: "signalair", Signal: measure.SignalOdor, Lat: 43.7, Lon: 7.26},
			{ID: "r-2", Source: "signalair", Signal: measure.SignalNoise, Lat: 43.7, Lon: 7.26},
			{ID: "r-3", Source: "signalair", Signal: measure.SignalOdor, Lat: 43.8, Lon: 7.3},
		}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := orchestrator.Start(ctx, orchestrator.Options{Registry: reg, Logf: quiet})

	h := NewHandler(o, priority.NewResolver(priority.DefaultTiers()), spiderfy.New(spiderfy.Config{}), nil, quiet)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, o
}

func postSelection(t *testing.T, srv *httptest.Server, body string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/selection", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post selection: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("selection status = %d", resp.StatusCode)
	}
}

func waitSettled(t *testing.T, o *orchestrator.Orchestrator, cond func(orchestrator.Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(o.Snapshot()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orchestrator never settled; snapshot: %+v", o.Snapshot())
}

func TestMeasurementsEndpointDecoratesAndOrders(t *testing.T) {
	t.Parallel()

	srv, o := newTestServer(t)
	postSelection(t, srv, `{"sources":["ref"],"pollutant":"pm10","timeStep":"hour"}`)
	waitSettled(t, o, func(s orchestrator.Snapshot) bool { return len(s.Measurements) == 2 && !s.Loading })

	resp, err := http.Get(srv.URL + "/api/measurements")
	if err != nil {
		t.Fatalf("get measurements: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Measurements []struct {
			ID       string  `json:"id"`
			Priority float64 `json:"priority"`
			ZIndex   int     `json:"zIndex"`
		} `json:"measurements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Measurements) != 2 {
		t.Fatalf("unexpected count: %d", len(body.Measurements))
	}
	// Draw order: the valueless station first, the valued one on top.
	if body.Measurements[0].ID != "ref-2" || body.Measurements[1].ID != "ref-1" {
		t.Fatalf("unexpected draw order: %+v", body.Measurements)
	}
	if body.Measurements[0].Priority >= body.Measurements[1].Priority {
		t.Fatal("priorities not ascending in draw order")
	}
	if body.Measurements[0].ZIndex > body.Measurements[1].ZIndex {
		t.Fatal("z-index not monotonic with draw order")
	}
}

func TestSpiderfyEndpoint(t *testing.T) {
	t.Parallel()

	srv, o := newTestServer(t)
	postSelection(t, srv, `{"sources":["signalair"],"timeStep":"15min"}`)
	waitSettled(t, o, func(s orchestrator.Snapshot) bool { return len(s.Reports) == 3 && !s.Loading })

	resp, err := http.Get(srv.URL + "/api/spiderfy?zoom=16")
	if err != nil {
		t.Fatalf("get spiderfy: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Positions  map[string]spiderfy.Position  `json:"positions"`
		Placements map[string]spiderfy.Placement `json:"placements"`
		Centroids  []spiderfy.Centroid           `json:"centroids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Placements) != 2 {
		t.Fatalf("expected the two coincident reports spiderfied, got %d", len(body.Placements))
	}
	if _, moved := body.Placements["r-3"]; moved {
		t.Fatal("isolated report must not be spiderfied")
	}
	if len(body.Centroids) != 1 {
		t.Fatalf("expected one centroid, got %d", len(body.Centroids))
	}

	// Below the threshold the same data yields an idle layout.
	resp2, err := http.Get(srv.URL + "/api/spiderfy?zoom=3")
	if err != nil {
		t.Fatalf("get spiderfy idle: %v", err)
	}
	defer resp2.Body.Close()
	var idle struct {
		Placements map[string]spiderfy.Placement `json:"placements"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&idle); err != nil {
		t.Fatalf("decode idle: %v", err)
	}
	if len(idle.Placements) != 0 {
		t.Fatal("engine must stay idle below the zoom threshold")
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, o := newTestServer(t)
	postSelection(t, srv, `{"sources":["ref"],"timeStep":"hour"}`)
	waitSettled(t, o, func(s orchestrator.Snapshot) bool { return !s.Loading && len(s.Measurements) == 2 })

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var status struct {
		Loading   bool      `json:"loading"`
		InFlight  []string  `json:"inFlight"`
		LastCycle time.Time `json:"lastCycle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Loading || len(status.InFlight) != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastCycle.IsZero() {
		t.Fatal("last cycle missing from status")
	}
}

func TestShareQRRejectsForeignHosts(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/share/qr.png?target=https://evil.example/phish")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("foreign target accepted: %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/share/qr.png")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("default share QR failed: status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
