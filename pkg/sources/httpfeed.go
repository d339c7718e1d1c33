package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mistral-air-map/pkg/measure"
)

const (
	networkTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
)

// HTTPFeed fetches a provider's JSON feed and normalizes it into records.
// Upstream services disagree on field names ("lat" vs "latitude", string
// vs numeric values), so decoding probes a list of aliases per field
// instead of binding to one schema.
type HTTPFeed struct {
	URL         string // feed endpoint; query parameters are appended per request
	Code        string // canonical source code stamped on every record
	Reports     bool   // decode nuisance reports instead of measurements
	DefaultUnit string // unit assumed when the feed omits one
	Client      *http.Client
	Logf        func(string, ...any)
}

// FetchData implements Capability. An empty feed is nil records with a
// nil error; transport and decode failures are returned to the caller.
func (f *HTTPFeed) FetchData(ctx context.Context, req Request) ([]measure.Record, error) {
	target, err := f.requestURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = &http.Client{
			Timeout: networkTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 8 * time.Second}).DialContext,
				TLSHandshakeTimeout: 8 * time.Second,
			},
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	items, err := decodeItems(b)
	if err != nil {
		return nil, err
	}
	if f.Logf != nil {
		f.Logf("feed %s: items=%d bytes=%d", f.Code, len(items), len(b))
	}
	if f.Reports {
		return f.decodeReports(items), nil
	}
	return f.decodeMeasurements(items, req.Pollutant), nil
}

// requestURL appends the effective request parameters to the feed URL so
// auxiliary filters are part of the wire request, not a local afterthought.
func (f *HTTPFeed) requestURL(req Request) (string, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return "", fmt.Errorf("feed url %q: %w", f.URL, err)
	}
	q := u.Query()
	if req.Pollutant != "" {
		q.Set("pollutant", req.Pollutant)
	}
	if req.TimeStep != "" {
		q.Set("step", string(req.TimeStep))
	}
	if !req.Aux.From.IsZero() {
		q.Set("from", req.Aux.From.UTC().Format(time.RFC3339))
	}
	if !req.Aux.To.IsZero() {
		q.Set("to", req.Aux.To.UTC().Format(time.RFC3339))
	}
	if req.Aux.SensorID != "" {
		q.Set("sensor", req.Aux.SensorID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeItems accepts either a bare JSON array or an object wrapping one
// under a handful of conventional keys.
func decodeItems(b []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(b, &list); err != nil {
		var wrapped map[string]any
		if err2 := json.Unmarshal(b, &wrapped); err2 != nil {
			return nil, err
		}
		for _, key := range []string{"measurements", "stations", "reports", "data", "items", "results"} {
			if arr, ok := wrapped[key].([]any); ok {
				for _, raw := range arr {
					if m, ok := raw.(map[string]any); ok {
						list = append(list, m)
					}
				}
				break
			}
		}
	}
	return list, nil
}

func (f *HTTPFeed) decodeMeasurements(items []map[string]any, pollutant string) []measure.Record {
	out := make([]measure.Record, 0, len(items))
	for _, m := range items {
		r := measure.Record{Source: f.Code}
		r.ID = firstString(m, "id", "sensorId", "sensor_id", "stationId", "station_id", "code")
		r.Lat = firstFloat(m, "lat", "latitude", "Latitude")
		r.Lon = firstFloat(m, "lon", "lng", "longitude", "Longitude")
		r.Pollutant = firstString(m, "pollutant", "polluant", "parameter")
		if r.Pollutant == "" {
			r.Pollutant = pollutant
		}
		r.Unit = firstString(m, "unit", "unite", "units")
		if r.Unit == "" {
			r.Unit = f.DefaultUnit
		}
		if v, ok := optionalFloat(m, "value", "valeur", "mesure"); ok {
			r.Value = &v
		}
		r.Status = firstString(m, "status", "etat", "state")
		r.MeasuredAt = parseTimestamp(firstString(m, "date", "timestamp", "time", "measuredAt", "lastUpdate"))
		if r.MeasuredAt == 0 {
			r.MeasuredAt = int64(firstFloat(m, "timestamp", "time", "measuredAt"))
		}
		if r.MeasuredAt > 1_000_000_000_000 {
			r.MeasuredAt /= 1000
		}
		if r.ID == "" {
			if name := firstString(m, "name", "nom", "label"); name != "" {
				r.ID = name
			}
		}
		out = append(out, r)
	}
	return out
}

func (f *HTTPFeed) decodeReports(items []map[string]any) []measure.Record {
	out := make([]measure.Record, 0, len(items))
	for _, m := range items {
		r := measure.Record{Source: f.Code}
		r.ID = firstString(m, "id", "reportId", "report_id", "uuid")
		r.Lat = firstFloat(m, "lat", "latitude")
		r.Lon = firstFloat(m, "lon", "lng", "longitude")
		r.Signal = normalizeSignal(firstString(m, "signal", "signalType", "signal_type", "type", "category"))
		r.Comment = firstString(m, "comment", "description", "text")
		r.CreatedAt = parseTimestamp(firstString(m, "createdAt", "created_at", "date", "timestamp"))
		if r.CreatedAt == 0 {
			r.CreatedAt = int64(firstFloat(m, "createdAt", "timestamp"))
		}
		if r.CreatedAt > 1_000_000_000_000 {
			r.CreatedAt /= 1000
		}
		out = append(out, r)
	}
	return out
}

// normalizeSignal maps loose upstream category strings to the fixed
// signal vocabulary; unknown categories map to odor, the dominant report
// type on the platform.
func normalizeSignal(raw string) measure.SignalType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "noise", "bruit", "sound":
		return measure.SignalNoise
	case "burning", "brulage", "smoke", "fumee":
		return measure.SignalBurning
	case "visual", "visuel", "haze":
		return measure.SignalVisual
	case "":
		return ""
	default:
		return measure.SignalOdor
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch x := v.(type) {
			case string:
				if strings.TrimSpace(x) != "" {
					return strings.TrimSpace(x)
				}
			case float64:
				return strconv.FormatInt(int64(x), 10)
			}
		}
	}
	return ""
}

func firstFloat(m map[string]any, keys ...string) float64 {
	f, _ := optionalFloat(m, keys...)
	return f
}

// optionalFloat distinguishes "absent" from "zero" so a station with no
// recent value is not mistaken for one measuring exactly nothing.
func optionalFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch x := v.(type) {
			case float64:
				return x, true
			case string:
				s := strings.Replace(strings.TrimSpace(x), ",", ".", 1)
				if s == "" {
					continue
				}
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func parseTimestamp(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ts > 1_000_000_000_000 {
			return ts / 1000
		}
		return ts
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "20060102150405"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Unix()
		}
	}
	return 0
}
