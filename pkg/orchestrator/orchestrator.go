// Package orchestrator keeps a merged view of measurements and nuisance
// reports fresh across every selected source. One goroutine owns all
// state and is driven by discrete events over channels: selection
// changes, per-source fetch completions, auto-refresh ticks, and
// snapshot requests. Source fetches run concurrently and merge
// independently, so one slow or broken provider never holds back the
// rest of the map.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"mistral-air-map/pkg/logger"
	"mistral-air-map/pkg/measure"
	"mistral-air-map/pkg/sources"
	"mistral-air-map/pkg/updates"
)

// Selection is the caller-owned UI state read on each fetch cycle.
// Sources may carry composite "group.subsource" identifiers; they are
// normalized to canonical leaf codes before anything is fetched or
// stored.
type Selection struct {
	Sources     []string
	Pollutant   string
	TimeStep    measure.TimeStep
	Aux         map[string]sources.Aux // keyed by canonical source code
	AutoRefresh bool
}

// Snapshot is a consistent copy of the merged view for rendering.
type Snapshot struct {
	Measurements []measure.Measurement     `json:"measurements"`
	Reports      []measure.CommunityReport `json:"reports"`
	Loading      bool                      `json:"loading"`
	Err          string                    `json:"error,omitempty"`
	InFlight     []string                  `json:"inFlight"`
	LastCycle    time.Time                 `json:"lastCycle"`
}

// Store is the optional warm-start persistence consumed by the
// orchestrator. *database.Database satisfies it.
type Store interface {
	ReplaceSourceMeasurements(ctx context.Context, source string, ms []measure.Measurement) error
	ReplaceSourceReports(ctx context.Context, source string, rs []measure.CommunityReport) error
	DeleteSource(ctx context.Context, source string) error
}

// Options configures an Orchestrator. All fields are optional except
// Registry.
type Options struct {
	Registry *sources.Registry
	Bus      *updates.Bus // merge notifications for stream subscribers
	Store    Store        // last-known snapshot persistence
	Logf     func(string, ...any)

	// Restored state from a previous run, rendered until fresh fetches
	// replace it source by source.
	RestoredMeasurements map[string][]measure.Measurement
	RestoredReports      map[string][]measure.CommunityReport
}

type command struct {
	selection *Selection
	aux       *auxChange
	refresh   bool
}

type auxChange struct {
	source string
	aux    sources.Aux
}

type sourceResult struct {
	cycleID string
	source  string
	ms      []measure.Measurement
	rs      []measure.CommunityReport
	dropped int
	err     error
}

type persistOp struct {
	source string
	ms     []measure.Measurement
	rs     []measure.CommunityReport
	evict  bool
}

// Orchestrator fans fetches out to source capabilities and merges their
// results. Construct with Start; all methods are safe for concurrent use.
type Orchestrator struct {
	registry *sources.Registry
	bus      *updates.Bus
	logf     func(string, ...any)

	commands chan command
	results  chan sourceResult
	snaps    chan chan Snapshot
	persist  chan persistOp
}

// Start launches the orchestrator's state loop. It runs until ctx ends.
func Start(ctx context.Context, opts Options) *Orchestrator {
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	o := &Orchestrator{
		registry: opts.Registry,
		bus:      opts.Bus,
		logf:     logf,
		commands: make(chan command),
		results:  make(chan sourceResult),
		snaps:    make(chan chan Snapshot),
		persist:  make(chan persistOp, 64),
	}
	if opts.Store != nil {
		go o.persistLoop(ctx, opts.Store)
	}
	go o.run(ctx, opts)
	return o
}

// SetSelection replaces the active selection and triggers a fetch cycle.
// An empty source list clears the merged view immediately with no
// network activity.
func (o *Orchestrator) SetSelection(sel Selection) {
	o.commands <- command{selection: &sel}
}

// SetAux replaces one source's auxiliary filter and forces a fresh fetch
// for that source, even though the selection identifiers are unchanged:
// the filter is part of the effective request.
func (o *Orchestrator) SetAux(source string, aux sources.Aux) {
	o.commands <- command{aux: &auxChange{source: sources.Normalize(source), aux: aux}}
}

// Refresh forces a full fetch cycle for the current selection.
func (o *Orchestrator) Refresh() {
	o.commands <- command{refresh: true}
}

// Snapshot returns a consistent copy of the merged view.
func (o *Orchestrator) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	o.snaps <- reply
	return <-reply
}

// run owns every piece of mutable state. Nothing outside this goroutine
// reads or writes it.
func (o *Orchestrator) run(ctx context.Context, opts Options) {
	var (
		selected  []string // canonical codes, selection order
		selSet    = make(map[string]struct{})
		pollutant string
		timeStep  = measure.StepHour
		auxes     = make(map[string]sources.Aux)
		auto      bool

		meas      = make(map[string][]measure.Measurement)
		reps      = make(map[string][]measure.CommunityReport)
		inflight  = make(map[string]struct{})
		errMsg    string
		lastCycle time.Time

		ticker *time.Ticker
		tickC  <-chan time.Time
	)

	for source, ms := range opts.RestoredMeasurements {
		meas[source] = ms
	}
	for source, rs := range opts.RestoredReports {
		reps[source] = rs
	}

	// resetTimer cancels and, when applicable, recreates the refresh
	// ticker exactly once per selection-state change. No overlapping
	// timers, no leaked timers.
	resetTimer := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
		if auto && len(selected) > 0 {
			ticker = time.NewTicker(timeStep.RefreshInterval())
			tickC = ticker.C
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	// fetchSources starts one concurrent fetch per requested source.
	// Unresolvable codes surface as a single cycle-level error without
	// stopping the sources that do resolve.
	fetchSources := func(codes []string) {
		cycleID := uuid.NewString()[:8]
		errMsg = ""
		for _, code := range codes {
			capability, err := o.registry.Resolve(code)
			if err != nil {
				errMsg = err.Error()
				o.logf("[%s][cycle] %v", cycleID, err)
				continue
			}
			req := sources.Request{Pollutant: pollutant, TimeStep: timeStep, Aux: auxes[code]}
			inflight[code] = struct{}{}
			key := cycleID + "/" + code
			logger.Begin(key)
			logger.Append(key, fmt.Sprintf("[%s] fetch start: pollutant=%s step=%s", key, pollutant, timeStep))
			go o.fetchOne(ctx, cycleID, code, capability, req)
		}
	}

	// evictStale removes entities whose canonical source left the
	// selection, before any new data for the remaining sources merges.
	evictStale := func() {
		for source := range meas {
			if _, ok := selSet[source]; !ok {
				delete(meas, source)
				o.enqueuePersist(persistOp{source: source, evict: true})
			}
		}
		for source := range reps {
			if _, ok := selSet[source]; !ok {
				delete(reps, source)
				o.enqueuePersist(persistOp{source: source, evict: true})
			}
		}
		// A deselected source's pending fetch no longer counts toward
		// loading state; its eventual result is discarded on arrival.
		for source := range inflight {
			if _, ok := selSet[source]; !ok {
				delete(inflight, source)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-o.commands:
			switch {
			case cmd.selection != nil:
				sel := cmd.selection
				selected = sources.NormalizeAll(sel.Sources)
				selSet = make(map[string]struct{}, len(selected))
				for _, code := range selected {
					selSet[code] = struct{}{}
				}
				pollutant = sel.Pollutant
				timeStep = sel.TimeStep
				auto = sel.AutoRefresh
				auxes = make(map[string]sources.Aux, len(sel.Aux))
				for code, aux := range sel.Aux {
					auxes[sources.Normalize(code)] = aux
				}

				evictStale()
				resetTimer()

				if len(selected) == 0 {
					// Clear immediately; no network.
					meas = make(map[string][]measure.Measurement)
					reps = make(map[string][]measure.CommunityReport)
					errMsg = ""
					continue
				}
				fetchSources(selected)

			case cmd.aux != nil:
				change := cmd.aux
				prev, had := auxes[change.source]
				auxes[change.source] = change.aux
				if _, ok := selSet[change.source]; !ok {
					continue
				}
				if had && prev.Equal(change.aux) {
					continue
				}
				fetchSources([]string{change.source})

			case cmd.refresh:
				if len(selected) > 0 {
					fetchSources(selected)
				}
			}

		case res := <-o.results:
			delete(inflight, res.source)
			if len(inflight) == 0 {
				lastCycle = time.Now()
			}
			key := res.cycleID + "/" + res.source

			if res.err != nil {
				// Per-source failure: prior entities stay, other
				// sources are unaffected.
				logger.FlushError(key, res.err)
				if o.bus != nil {
					o.bus.Publish(updates.Update{CycleID: res.cycleID, Source: res.source, Err: res.err.Error()})
				}
				break
			}

			if _, ok := selSet[res.source]; !ok {
				// The source was deselected while its fetch was in
				// flight; merging now would resurrect evicted markers.
				logger.Success(key, "discarded: source deselected mid-flight")
				break
			}

			meas[res.source] = res.ms
			reps[res.source] = res.rs
			summary := fmt.Sprintf("%s: %d measurements, %d reports", res.source, len(res.ms), len(res.rs))
			if res.dropped > 0 {
				summary += fmt.Sprintf(" (%d malformed records dropped)", res.dropped)
			}
			logger.Success(key, summary)

			o.enqueuePersist(persistOp{source: res.source, ms: res.ms, rs: res.rs})
			if o.bus != nil {
				o.bus.Publish(updates.Update{
					CycleID:      res.cycleID,
					Source:       res.source,
					Measurements: len(res.ms),
					Reports:      len(res.rs),
				})
			}

		case <-tickC:
			fetchSources(selected)

		case reply := <-o.snaps:
			snap := Snapshot{
				Loading:   len(inflight) > 0,
				Err:       errMsg,
				LastCycle: lastCycle,
			}
			for source := range inflight {
				snap.InFlight = append(snap.InFlight, source)
			}
			sort.Strings(snap.InFlight)
			for _, source := range sortedKeys(meas) {
				snap.Measurements = append(snap.Measurements, meas[source]...)
			}
			for _, source := range sortedKeys(reps) {
				snap.Reports = append(snap.Reports, reps[source]...)
			}
			reply <- snap
		}
	}
}

// fetchOne runs one source capability call and reports back over the
// results channel. Discrimination into measurements and reports happens
// here, once, at ingestion.
func (o *Orchestrator) fetchOne(ctx context.Context, cycleID, code string, capability sources.Capability, req sources.Request) {
	records, err := capability.FetchData(ctx, req)
	res := sourceResult{cycleID: cycleID, source: code, err: err}
	if err == nil {
		res.ms, res.rs, res.dropped = measure.Discriminate(records)
	}
	select {
	case o.results <- res:
	case <-ctx.Done():
	}
}

// enqueuePersist hands a snapshot write to the persist loop without ever
// blocking the state loop. Under overload the write is dropped; the next
// merge re-persists the source anyway.
func (o *Orchestrator) enqueuePersist(op persistOp) {
	select {
	case o.persist <- op:
	default:
	}
}

// persistLoop serializes snapshot writes against the store.
func (o *Orchestrator) persistLoop(ctx context.Context, store Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-o.persist:
			if op.evict {
				if err := store.DeleteSource(ctx, op.source); err != nil {
					o.logf("snapshot evict %s: %v", op.source, err)
				}
				continue
			}
			if err := store.ReplaceSourceMeasurements(ctx, op.source, op.ms); err != nil {
				o.logf("snapshot write %s: %v", op.source, err)
			}
			if err := store.ReplaceSourceReports(ctx, op.source, op.rs); err != nil {
				o.logf("snapshot write %s: %v", op.source, err)
			}
		}
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
