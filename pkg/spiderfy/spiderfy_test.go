package spiderfy

import (
	"math"
	"testing"
)

func TestIsolatedPointsNeverMove(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	points := []Point{
		{ID: "a", Lat: 43.70, Lon: 7.26},
		{ID: "b", Lat: 43.71, Lon: 7.26},
		{ID: "c", Lat: 43.72, Lon: 7.26},
	}

	for _, zoom := range []int{0, DefaultZoomThreshold - 1, DefaultZoomThreshold, 20} {
		l := e.Compute(points, zoom)
		for _, p := range points {
			if l.IsSpiderfied(p.ID) {
				t.Fatalf("isolated point %s spiderfied at zoom %d", p.ID, zoom)
			}
			pos, ok := l.PositionOf(p.ID)
			if !ok || pos.Lat != p.Lat || pos.Lon != p.Lon {
				t.Fatalf("isolated point %s moved at zoom %d: %+v", p.ID, zoom, pos)
			}
			if l.DataOf(p.ID) != nil {
				t.Fatalf("isolated point %s has placement data", p.ID)
			}
		}
		if len(l.Centroids()) != 0 {
			t.Fatalf("no centroids expected, got %d", len(l.Centroids()))
		}
	}
}

func TestGroupClosure(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	coincident := []Point{
		{ID: "r1", Lat: 43.700000000, Lon: 7.260000000},
		{ID: "r2", Lat: 43.700000000, Lon: 7.260000000},
		{ID: "r3", Lat: 43.700000000, Lon: 7.260000000},
	}
	points := append(coincident, Point{ID: "r4", Lat: 43.701, Lon: 7.26})

	l := e.Compute(points, DefaultZoomThreshold)

	if l.Spiderfied() != 3 {
		t.Fatalf("expected 3 spiderfied points, got %d", l.Spiderfied())
	}
	if l.IsSpiderfied("r4") {
		t.Fatal("the isolated fourth report must stay put")
	}

	cs := l.Centroids()
	if len(cs) != 1 {
		t.Fatalf("expected one centroid, got %d", len(cs))
	}
	center := cs[0].Position
	if math.Abs(center.Lat-43.7) > 1e-12 || math.Abs(center.Lon-7.26) > 1e-12 {
		t.Fatalf("centroid is not the arithmetic mean: %+v", center)
	}

	// Exactly N distinct resolved positions, each at the configured
	// radius from the centroid.
	seen := make(map[Position]struct{})
	for _, id := range []string{"r1", "r2", "r3"} {
		data := l.DataOf(id)
		if data == nil {
			t.Fatalf("missing placement for %s", id)
		}
		if data.Cluster != 0 {
			t.Fatalf("unexpected cluster index for %s: %d", id, data.Cluster)
		}
		if data.Original != (Position{Lat: 43.7, Lon: 7.26}) {
			t.Fatalf("original position lost for %s: %+v", id, data.Original)
		}
		seen[data.Resolved] = struct{}{}

		dLat := data.Resolved.Lat - center.Lat
		dLon := data.Resolved.Lon - center.Lon
		dist := math.Hypot(dLat, dLon)
		if math.Abs(dist-DefaultRadius) > 1e-9 {
			t.Fatalf("%s is %.12f degrees from centroid, want %.12f", id, dist, DefaultRadius)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("resolved positions are not distinct: %d unique", len(seen))
	}
}

func TestBelowZoomThresholdIsIdle(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	points := []Point{
		{ID: "a", Lat: 43.7, Lon: 7.26},
		{ID: "b", Lat: 43.7, Lon: 7.26},
	}

	l := e.Compute(points, DefaultZoomThreshold-1)
	if l.Spiderfied() != 0 || len(l.Centroids()) != 0 {
		t.Fatal("engine must stay idle below the zoom threshold")
	}
	pos, _ := l.PositionOf("a")
	if pos.Lat != 43.7 || pos.Lon != 7.26 {
		t.Fatalf("point moved while idle: %+v", pos)
	}
}

func TestQuantizationSeparatesNearbyPoints(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	// Differ at the 8th decimal: far below any visible distance but
	// above the 9-decimal quantization, so they are not coincident.
	points := []Point{
		{ID: "a", Lat: 43.70000001, Lon: 7.26},
		{ID: "b", Lat: 43.70000002, Lon: 7.26},
	}
	l := e.Compute(points, 20)
	if l.Spiderfied() != 0 {
		t.Fatal("points differing above the quantization precision must not group")
	}

	// The same pair groups under a coarser precision.
	coarse := New(Config{Precision: 6})
	l = coarse.Compute(points, 20)
	if l.Spiderfied() != 2 {
		t.Fatal("coarser quantization should group the pair")
	}
}

func TestFloatNoiseStillGroups(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	points := []Point{
		{ID: "a", Lat: 43.7, Lon: 7.26},
		{ID: "b", Lat: 43.7 + 1e-12, Lon: 7.26 - 1e-12},
	}
	l := e.Compute(points, 20)
	if l.Spiderfied() != 2 {
		t.Fatal("floating-point noise below the precision must still group")
	}
}

func TestEmptyAndDisabled(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	l := e.Compute(nil, 20)
	if l.Spiderfied() != 0 || len(l.Centroids()) != 0 {
		t.Fatal("empty input must yield empty results")
	}
	if _, ok := l.PositionOf("ghost"); ok {
		t.Fatal("unknown id must report false")
	}

	disabled := New(Config{Disabled: true})
	points := []Point{
		{ID: "a", Lat: 43.7, Lon: 7.26},
		{ID: "b", Lat: 43.7, Lon: 7.26},
	}
	if disabled.Compute(points, 20).Spiderfied() != 0 {
		t.Fatal("disabled engine must yield idle results")
	}
}

func TestMultipleClustersGetDistinctIndices(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	points := []Point{
		{ID: "a1", Lat: 43.7, Lon: 7.26},
		{ID: "a2", Lat: 43.7, Lon: 7.26},
		{ID: "b1", Lat: 43.8, Lon: 7.30},
		{ID: "b2", Lat: 43.8, Lon: 7.30},
		{ID: "b3", Lat: 43.8, Lon: 7.30},
	}
	l := e.Compute(points, 20)
	if l.Spiderfied() != 5 {
		t.Fatalf("expected 5 spiderfied points, got %d", l.Spiderfied())
	}
	if len(l.Centroids()) != 2 {
		t.Fatalf("expected 2 centroids, got %d", len(l.Centroids()))
	}
	if l.DataOf("a1").Cluster == l.DataOf("b1").Cluster {
		t.Fatal("distinct groups must get distinct cluster indices")
	}
}
