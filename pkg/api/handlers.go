// Package api exposes the merged map state over HTTP. Routes stay small
// and declarative: they translate query parameters into snapshot reads
// and pure layout computations, never touching orchestrator internals.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"mistral-air-map/pkg/measure"
	"mistral-air-map/pkg/orchestrator"
	"mistral-air-map/pkg/priority"
	"mistral-air-map/pkg/sources"
	"mistral-air-map/pkg/spiderfy"
	"mistral-air-map/pkg/updates"
)

// Handler wires the orchestrator, resolver, and spiderfy engine into
// HTTP routes.
type Handler struct {
	Orch     *orchestrator.Orchestrator
	Resolver *priority.Resolver
	Spider   *spiderfy.Engine
	Bus      *updates.Bus
	Logf     func(string, ...any)
}

// NewHandler constructs a Handler. Logf may be nil.
func NewHandler(o *orchestrator.Orchestrator, r *priority.Resolver, s *spiderfy.Engine, b *updates.Bus, logf func(string, ...any)) *Handler {
	return &Handler{Orch: o, Resolver: r, Spider: s, Bus: b, Logf: logf}
}

// Register attaches the API routes to the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.HandleFunc("/api/measurements", h.handleMeasurements)
	mux.HandleFunc("/api/reports", h.handleReports)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/spiderfy", h.handleSpiderfy)
	mux.HandleFunc("/api/selection", h.handleSelection)
	mux.HandleFunc("/api/stream", h.handleStream)
	mux.HandleFunc("/api/share/qr.png", h.handleShareQR)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := struct {
		Endpoints map[string]any `json:"endpoints"`
	}{
		Endpoints: map[string]any{
			"measurements": map[string]any{
				"method":      "GET",
				"path":        "/api/measurements",
				"description": "Merged measurements with draw priority and z-index.",
			},
			"reports": map[string]any{
				"method":      "GET",
				"path":        "/api/reports",
				"description": "Merged citizen nuisance reports.",
			},
			"status": map[string]any{
				"method":      "GET",
				"path":        "/api/status",
				"description": "Loading flag, in-flight sources, last cycle, error state.",
			},
			"spiderfy": map[string]any{
				"method":      "GET",
				"path":        "/api/spiderfy",
				"query":       []string{"zoom", "kind"},
				"description": "Decluttered positions for coincident markers at the given zoom.",
			},
			"selection": map[string]any{
				"method":      "POST",
				"path":        "/api/selection",
				"description": "Replace the active source/pollutant/time-step selection.",
			},
			"stream": map[string]any{
				"method":      "GET",
				"path":        "/api/stream",
				"description": "Server-sent events, one per merged source.",
			},
		},
	}
	writeJSON(w, overview)
}

// markerView is a measurement decorated with its render ordering.
type markerView struct {
	measure.Measurement
	Priority float64 `json:"priority"`
	ZIndex   int     `json:"zIndex"`
}

func (h *Handler) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	snap := h.Orch.Snapshot()

	views := make([]markerView, 0, len(snap.Measurements))
	for _, m := range snap.Measurements {
		views = append(views, markerView{
			Measurement: m,
			Priority:    h.Resolver.PriorityOf(m),
			ZIndex:      h.Resolver.ZIndexOf(m),
		})
	}
	// Draw order: lower priority first so the renderer can paint in
	// slice order.
	sort.SliceStable(views, func(i, j int) bool {
		return h.Resolver.Less(views[i].Measurement, views[j].Measurement)
	})

	writeJSON(w, struct {
		Measurements []markerView `json:"measurements"`
		LastCycle    time.Time    `json:"lastCycle"`
	}{views, snap.LastCycle})
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	snap := h.Orch.Snapshot()
	writeJSON(w, struct {
		Reports   []measure.CommunityReport `json:"reports"`
		LastCycle time.Time                 `json:"lastCycle"`
	}{snap.Reports, snap.LastCycle})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Orch.Snapshot()
	writeJSON(w, struct {
		Loading   bool      `json:"loading"`
		Err       string    `json:"error,omitempty"`
		InFlight  []string  `json:"inFlight"`
		LastCycle time.Time `json:"lastCycle"`
	}{snap.Loading, snap.Err, snap.InFlight, snap.LastCycle})
}

// handleSpiderfy computes the declutter layout for the current snapshot
// at the requested zoom. kind selects reports (default) or measurements.
func (h *Handler) handleSpiderfy(w http.ResponseWriter, r *http.Request) {
	zoom, err := strconv.Atoi(r.URL.Query().Get("zoom"))
	if err != nil {
		http.Error(w, "zoom must be an integer", http.StatusBadRequest)
		return
	}

	snap := h.Orch.Snapshot()
	var points []spiderfy.Point
	switch r.URL.Query().Get("kind") {
	case "measurements":
		for _, m := range snap.Measurements {
			points = append(points, spiderfy.Point{ID: m.ID, Lat: m.Lat, Lon: m.Lon})
		}
	default:
		for _, rep := range snap.Reports {
			points = append(points, spiderfy.Point{ID: rep.ID, Lat: rep.Lat, Lon: rep.Lon})
		}
	}

	layout := h.Spider.Compute(points, zoom)

	positions := make(map[string]spiderfy.Position, len(points))
	placements := make(map[string]spiderfy.Placement)
	for _, p := range points {
		pos, _ := layout.PositionOf(p.ID)
		positions[p.ID] = pos
		if data := layout.DataOf(p.ID); data != nil {
			placements[p.ID] = *data
		}
	}

	writeJSON(w, struct {
		Positions  map[string]spiderfy.Position  `json:"positions"`
		Placements map[string]spiderfy.Placement `json:"placements"`
		Centroids  []spiderfy.Centroid           `json:"centroids"`
	}{positions, placements, layout.Centroids()})
}

// selectionPayload is the wire form of a selection change.
type selectionPayload struct {
	Sources     []string `json:"sources"`
	Pollutant   string   `json:"pollutant"`
	TimeStep    string   `json:"timeStep"`
	AutoRefresh bool     `json:"autoRefresh"`
	Aux         map[string]struct {
		From     string `json:"from,omitempty"`
		To       string `json:"to,omitempty"`
		SensorID string `json:"sensorId,omitempty"`
	} `json:"aux,omitempty"`
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var payload selectionPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&payload); err != nil {
		http.Error(w, "bad selection payload", http.StatusBadRequest)
		return
	}

	sel := orchestrator.Selection{
		Sources:     sources.Expand(payload.Sources),
		Pollutant:   payload.Pollutant,
		TimeStep:    measure.ParseTimeStep(payload.TimeStep),
		AutoRefresh: payload.AutoRefresh,
	}
	if len(payload.Aux) > 0 {
		sel.Aux = make(map[string]sources.Aux, len(payload.Aux))
		for code, a := range payload.Aux {
			aux := sources.Aux{SensorID: a.SensorID}
			if t, err := time.Parse(time.RFC3339, a.From); err == nil {
				aux.From = t
			}
			if t, err := time.Parse(time.RFC3339, a.To); err == nil {
				aux.To = t
			}
			sel.Aux[code] = aux
		}
	}

	h.Orch.SetSelection(sel)
	if h.Logf != nil {
		h.Logf("selection: sources=%v pollutant=%s step=%s auto=%v",
			sel.Sources, sel.Pollutant, sel.TimeStep, sel.AutoRefresh)
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
