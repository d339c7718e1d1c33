// Package sources defines the boundary between the fetch orchestrator and
// the data providers feeding the map. Each provider is reachable through a
// uniform Capability; provider codes arriving from the UI may carry a
// "group.subsource" prefix that is stripped here, before anything is
// fetched or stored.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mistral-air-map/pkg/measure"
)

// Canonical leaf provider codes.
const (
	CodeReference   = "ref"
	CodeMicroSensor = "micro"
	CodeCommunity   = "community"
	CodeMobile      = "mobile"
	CodeNuisance    = "signalair"
)

// Groups maps a UI-only group code onto its leaf members. Grouping exists
// for checkbox trees in the presentation layer; stored entities only ever
// carry leaf codes.
var Groups = map[string][]string{
	"stations": {CodeReference, CodeMicroSensor},
	"citizen":  {CodeCommunity, CodeNuisance},
}

// Normalize strips any group prefix from a source identifier, returning
// the canonical leaf code. Leaf codes pass through unchanged, so the
// function is idempotent.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

// NormalizeAll normalizes and deduplicates a selection, preserving first
// occurrence order so fetch logs stay stable across cycles.
func NormalizeAll(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		code := Normalize(id)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// Expand replaces group codes with their leaf members, leaving leaf and
// composite identifiers untouched.
func Expand(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if leaves, ok := Groups[strings.TrimSpace(id)]; ok {
			out = append(out, leaves...)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Aux carries per-source auxiliary filters. The filter is part of the
// effective request: changing it must force a fresh fetch even when the
// selected source identifiers did not change.
type Aux struct {
	From     time.Time
	To       time.Time
	SensorID string
}

// Equal reports whether two filters describe the same effective request.
func (a Aux) Equal(b Aux) bool {
	return a.From.Equal(b.From) && a.To.Equal(b.To) && a.SensorID == b.SensorID
}

// Request describes one fetch against one provider.
type Request struct {
	Pollutant string
	TimeStep  measure.TimeStep
	Aux       Aux
}

// Capability is the uniform fetch contract every provider implements.
// "No data" is a nil slice with a nil error; errors are reserved for
// transport and parse failures, which the orchestrator treats as a
// per-source failure without touching the other providers.
type Capability interface {
	FetchData(ctx context.Context, req Request) ([]measure.Record, error)
}

// CapabilityFunc adapts a plain function to the Capability interface.
type CapabilityFunc func(ctx context.Context, req Request) ([]measure.Record, error)

// FetchData implements Capability.
func (f CapabilityFunc) FetchData(ctx context.Context, req Request) ([]measure.Record, error) {
	return f(ctx, req)
}

// ErrUnknownSource marks a requested code with no registered capability.
// The orchestrator surfaces it as a cycle-level error while continuing to
// fetch the codes it can resolve.
var ErrUnknownSource = errors.New("unknown source code")

// Registry maps canonical leaf codes onto capabilities.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register binds a capability to a canonical code, replacing any prior
// binding. Composite identifiers are normalized first so a registry can
// never hold a group entry.
func (r *Registry) Register(code string, c Capability) {
	r.caps[Normalize(code)] = c
}

// Resolve looks up the capability for a canonical code.
func (r *Registry) Resolve(code string) (Capability, error) {
	c, ok := r.caps[Normalize(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, code)
	}
	return c, nil
}

// Codes lists the registered canonical codes in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.caps))
	for code := range r.caps {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
