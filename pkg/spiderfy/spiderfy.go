// Package spiderfy redistributes exactly-coincident map points into a
// selectable ring so stacked markers can be told apart. Points that do
// not share a position with anything are never moved, and nothing moves
// at all below the activation zoom.
package spiderfy

import (
	"fmt"
	"math"
)

// Quantization precision for the coincidence key, in decimal degrees.
// Nine decimals is sub-millimeter: two points are grouped only when their
// positions are identical for all practical purposes, not merely near
// each other. Changing this constant changes which points count as
// coincident, so it is deliberately exposed on Config.
const DefaultPrecision = 9

const (
	// DefaultRadius is the ring radius in degrees, roughly 25 m at
	// temperate latitudes.
	DefaultRadius = 0.00022

	// DefaultZoomThreshold activates the engine once individual
	// buildings are distinguishable on the map.
	DefaultZoomThreshold = 15
)

// Point is a renderable entity position. ID must be unique within one
// Compute call.
type Point struct {
	ID  string
	Lat float64
	Lon float64
}

// Position is a lat/lon pair.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Placement describes where one spiderfied point renders and where it
// really is, plus the cluster it belongs to for connector drawing.
type Placement struct {
	Original Position `json:"originalPosition"`
	Resolved Position `json:"resolvedPosition"`
	Cluster  int      `json:"clusterIndex"`
}

// Centroid marks the shared true location of one active cluster.
type Centroid struct {
	Cluster  int      `json:"clusterIndex"`
	Position Position `json:"centroidPosition"`
}

// Config tunes the engine. The zero value is replaced by the defaults.
type Config struct {
	Precision     int     // quantization decimals for the coincidence key
	Radius        float64 // ring radius in degrees
	ZoomThreshold int     // minimum zoom at which rings appear
	Disabled      bool    // force idle results regardless of input
}

// Layout is the result of one Compute call. It is ephemeral: any change
// to the input set or a zoom threshold crossing requires a full
// recompute, never a patch of a previous layout.
type Layout struct {
	placements map[string]Placement
	positions  map[string]Position
	centroids  []Centroid
}

// Engine groups coincident points and lays them out on rings.
type Engine struct {
	cfg Config
}

// New builds an engine, filling zero config fields with the defaults.
func New(cfg Config) *Engine {
	if cfg.Precision <= 0 {
		cfg.Precision = DefaultPrecision
	}
	if cfg.Radius <= 0 {
		cfg.Radius = DefaultRadius
	}
	if cfg.ZoomThreshold <= 0 {
		cfg.ZoomThreshold = DefaultZoomThreshold
	}
	return &Engine{cfg: cfg}
}

// Compute derives a fresh layout for the given points at the given zoom.
// Below the threshold, or with the engine disabled, every point stays at
// its true position and no centroids are emitted.
func (e *Engine) Compute(points []Point, zoom int) *Layout {
	l := &Layout{
		placements: make(map[string]Placement),
		positions:  make(map[string]Position, len(points)),
	}
	for _, p := range points {
		l.positions[p.ID] = Position{Lat: p.Lat, Lon: p.Lon}
	}
	if e.cfg.Disabled || zoom < e.cfg.ZoomThreshold || len(points) < 2 {
		return l
	}

	// Group by quantized position, keeping first-seen key order so the
	// cluster indices are stable for a given input order.
	groups := make(map[string][]Point)
	var keys []string
	for _, p := range points {
		k := e.key(p.Lat, p.Lon)
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], p)
	}

	cluster := 0
	for _, k := range keys {
		members := groups[k]
		if len(members) < 2 {
			continue
		}

		var sumLat, sumLon float64
		for _, m := range members {
			sumLat += m.Lat
			sumLon += m.Lon
		}
		center := Position{
			Lat: sumLat / float64(len(members)),
			Lon: sumLon / float64(len(members)),
		}

		// N evenly spaced ring points, one per member, assigned in
		// stable input order. Single-level only: ring positions are
		// never regrouped even if they land on another cluster.
		step := 2 * math.Pi / float64(len(members))
		for i, m := range members {
			angle := step * float64(i)
			resolved := Position{
				Lat: center.Lat + e.cfg.Radius*math.Cos(angle),
				Lon: center.Lon + e.cfg.Radius*math.Sin(angle),
			}
			l.placements[m.ID] = Placement{
				Original: Position{Lat: m.Lat, Lon: m.Lon},
				Resolved: resolved,
				Cluster:  cluster,
			}
			l.positions[m.ID] = resolved
		}
		l.centroids = append(l.centroids, Centroid{Cluster: cluster, Position: center})
		cluster++
	}
	return l
}

// key quantizes a coordinate pair into the exact-coincidence map key.
func (e *Engine) key(lat, lon float64) string {
	scale := math.Pow(10, float64(e.cfg.Precision))
	return fmt.Sprintf("%d|%d",
		int64(math.Round(lat*scale)),
		int64(math.Round(lon*scale)))
}

// PositionOf returns where the point renders: its ring position when
// spiderfied, its true position otherwise. Unknown IDs report false.
func (l *Layout) PositionOf(id string) (Position, bool) {
	pos, ok := l.positions[id]
	return pos, ok
}

// IsSpiderfied reports whether the point was moved onto a ring.
func (l *Layout) IsSpiderfied(id string) bool {
	_, ok := l.placements[id]
	return ok
}

// DataOf returns the full placement for a spiderfied point, or nil for
// points rendering at their true position.
func (l *Layout) DataOf(id string) *Placement {
	if p, ok := l.placements[id]; ok {
		return &p
	}
	return nil
}

// Centroids lists the active clusters' shared locations, one entry per
// group with at least two members.
func (l *Layout) Centroids() []Centroid {
	return l.centroids
}

// Spiderfied returns how many points were moved onto rings.
func (l *Layout) Spiderfied() int {
	return len(l.placements)
}
