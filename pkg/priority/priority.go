// Package priority computes the draw order of overlapping markers. Every
// source belongs to a statically configured authority tier; a marker's
// measured value can lift it within its tier band but can never promote
// it past a higher-authority tier, so a reference station always draws on
// top of a community sensor no matter what either one measured.
package priority

import (
	"math"
	"sort"

	"mistral-air-map/pkg/measure"
)

// Tier bands, authority ascending. Each band runs from the tier's
// no-value floor (base × noValueFactor) up to the next tier's floor,
// which is the ceiling no valued bonus may reach.
const (
	baseNuisance    = 50
	baseCommunity   = 150
	baseMobile      = 400
	baseMicroSensor = 1000
	baseReference   = 2500
)

const (
	noValueFactor = 0.5
	valueScale    = 25 // normalizes µg/m³ values before the log saturation
	epsilon       = 1e-6
	zIndexMin     = -1000
	zIndexMax     = 1000
)

// Resolver maps canonical source codes onto tier base priorities.
// The zero value is not usable; build one with NewResolver.
type Resolver struct {
	bases map[string]float64
	// sorted distinct base values, used to find the next tier's floor
	ladder []float64
	maxPri float64
}

// DefaultTiers is the production source-to-tier table. Reference stations
// and qualified microsensors share the top of the authority order.
func DefaultTiers() map[string]float64 {
	return map[string]float64{
		"ref":       baseReference,
		"micro":     baseMicroSensor,
		"mobile":    baseMobile,
		"community": baseCommunity,
		"signalair": baseNuisance,
	}
}

// NewResolver builds a resolver from a source→base table. Bases must be
// positive; the relative ordering of the values defines the tiers.
func NewResolver(bases map[string]float64) *Resolver {
	r := &Resolver{bases: make(map[string]float64, len(bases))}
	distinct := make(map[float64]struct{})
	for code, base := range bases {
		r.bases[code] = base
		distinct[base] = struct{}{}
	}
	for base := range distinct {
		r.ladder = append(r.ladder, base)
	}
	sort.Float64s(r.ladder)
	if n := len(r.ladder); n > 0 {
		top := r.ladder[n-1]
		r.maxPri = top + r.bonusCeiling(top)
	}
	return r
}

// bonusCeiling returns the largest bonus a valued measurement in the tier
// may approach. It is the gap between the tier base and the next tier's
// no-value floor, so the ordering guarantee holds by construction rather
// than by clipping after the fact. The top tier gets headroom equal to
// its own floor offset.
func (r *Resolver) bonusCeiling(base float64) float64 {
	for _, b := range r.ladder {
		if b > base {
			return b*noValueFactor - base
		}
	}
	return base * noValueFactor
}

// PriorityOf returns the scalar priority of a measurement. Higher draws
// later, i.e. on top. Unknown sources land at zero, the very bottom of
// the draw order.
func (r *Resolver) PriorityOf(m measure.Measurement) float64 {
	base, ok := r.bases[m.Source]
	if !ok {
		return 0
	}
	if !m.HasValue || m.Quality == measure.LevelDefault {
		return base * noValueFactor
	}
	// Saturating bonus: f = L/(1+L) with L = log1p(v/scale) lies in
	// [0, 1), so base + ceiling*f stays strictly below the next floor.
	l := math.Log1p(math.Max(m.Value, 0) / valueScale)
	return base + r.bonusCeiling(base)*(l/(1+l))
}

// Less orders two measurements for drawing, lower first. Priorities
// within epsilon fall back to the raw value as a stable secondary key.
func (r *Resolver) Less(a, b measure.Measurement) bool {
	pa, pb := r.PriorityOf(a), r.PriorityOf(b)
	if math.Abs(pa-pb) < epsilon {
		return a.Value < b.Value
	}
	return pa < pb
}

// ZIndexOf remaps the priority onto the bounded z-index range expected by
// a layered renderer. The remap is linear, monotonic, and total.
func (r *Resolver) ZIndexOf(m measure.Measurement) int {
	if r.maxPri <= 0 {
		return zIndexMin
	}
	p := r.PriorityOf(m)
	if p < 0 {
		p = 0
	}
	if p > r.maxPri {
		p = r.maxPri
	}
	return zIndexMin + int(math.Round(p/r.maxPri*(zIndexMax-zIndexMin)))
}
