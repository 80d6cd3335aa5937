/*
service.go - Load cycle and mutating actions

LOAD CYCLE:
  LoadState fetches items and the raw ledger, normalizes both, runs the
  derivation, and returns the full snapshot. At most one load is in
  flight at a time: concurrent callers attach to the pending load and
  receive its result instead of issuing duplicate fetches. Once a load
  settles the shared handle is cleared, so the next call starts fresh.

MUTATIONS:
  Redeem, AdmitDefeat, UndoAdmitDefeat and SaveItems append/remove rows
  through the ledger port, then re-run the whole load cycle. Redeem
  checks remaining quota against freshly loaded state before writing
  anything. Mutations are not coordinated against each other; callers
  sequence them.

NO CANCELLATION:
  A load or mutation, once issued, runs to completion. The issuing
  caller's context only governs how long it waits for the shared result.
*/
package allot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allotment-engine/engine"
	"github.com/warp/allotment-engine/staging"
)

// Options configure a Service.
type Options struct {
	// Zone is the IANA zone all window math anchors to. Defaults to the
	// process-local zone.
	Zone *time.Location

	// Strict rejects unknown cadences and malformed ledger lines instead
	// of defaulting/skipping.
	Strict bool

	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger *slog.Logger
}

// Service owns the allotment subsystem for one ledger.
type Service struct {
	store   Store
	staging *staging.Store
	loc     *time.Location
	strict  bool
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	inflight *loadCall
}

// loadCall is one in-flight load shared by concurrent callers.
type loadCall struct {
	done  chan struct{}
	state *engine.AllocationState
	err   error
}

// NewService wires the service. store must not be nil; st may be nil when
// the staging feature is unused.
func NewService(store Store, st *staging.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, engine.ErrStoreUnavailable
	}
	loc := opts.Zone
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		staging: st,
		loc:     loc,
		strict:  opts.Strict,
		now:     now,
		log:     log,
	}, nil
}

// Zone returns the zone the service derives in.
func (s *Service) Zone() *time.Location { return s.loc }

// Staging returns the staging store, or nil when staging is unused.
func (s *Service) Staging() *staging.Store { return s.staging }

// =============================================================================
// LOAD - Single-flight load-and-derive
// =============================================================================

// LoadState returns the freshly derived allocation state. If a load is
// already pending, the caller attaches to it and shares its outcome.
func (s *Service) LoadState(ctx context.Context) (*engine.AllocationState, error) {
	s.mu.Lock()
	if c := s.inflight; c != nil {
		s.mu.Unlock()
		loadsShared.Inc()
		return c.wait(ctx)
	}

	c := &loadCall{done: make(chan struct{})}
	s.inflight = c
	s.mu.Unlock()

	go func() {
		// The load runs to completion even if the initiating caller
		// gives up waiting.
		st, err := s.doLoad(context.WithoutCancel(ctx))
		c.state, c.err = st, err

		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()
		close(c.done)
	}()

	return c.wait(ctx)
}

func (c *loadCall) wait(ctx context.Context) (*engine.AllocationState, error) {
	select {
	case <-c.done:
		return c.state, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) doLoad(ctx context.Context) (*engine.AllocationState, error) {
	doc, err := s.store.FetchItems(ctx)
	if err != nil {
		loadFailures.Inc()
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	raw, err := s.store.LedgerJSONL(ctx)
	if err != nil {
		loadFailures.Inc()
		return nil, fmt.Errorf("fetch ledger: %w", err)
	}

	events, lineErrs := engine.ParseJSONL(raw)
	if len(lineErrs) > 0 {
		if s.strict {
			loadFailures.Inc()
			return nil, fmt.Errorf("parse ledger: %w", lineErrs[0])
		}
		for _, le := range lineErrs {
			s.log.Warn("skipping malformed ledger line", "line", le.Line, "error", le.Err)
		}
	}

	items, err := s.normalizeItems(doc.Items)
	if err != nil {
		loadFailures.Inc()
		return nil, err
	}

	state := &engine.AllocationState{
		Year:   doc.Year,
		Items:  items,
		Ledger: events,
	}

	start := time.Now()
	engine.RecomputeDerived(state, s.now(), s.loc)
	deriveSeconds.Observe(time.Since(start).Seconds())
	loadsTotal.Inc()

	return state, nil
}

// normalizeItems settles cadence labels per the configured leniency.
func (s *Service) normalizeItems(items []engine.AllotmentItem) ([]engine.AllotmentItem, error) {
	out := make([]engine.AllotmentItem, len(items))
	for i, item := range items {
		if s.strict {
			c, err := engine.ParseCadence(string(item.Cadence))
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", item.Type, err)
			}
			item.Cadence = c
		} else {
			item.Cadence = engine.NormalizeCadence(string(item.Cadence))
		}
		out[i] = item
	}
	return out, nil
}

// =============================================================================
// MUTATING ACTIONS
// =============================================================================

// Redeem records one use of an item and returns the reloaded state. The
// remaining-quota check runs against freshly loaded state, never cached,
// and fails before any write when the window is exhausted.
func (s *Service) Redeem(ctx context.Context, itemType string) (*engine.AllocationState, error) {
	state, err := s.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	item, ok := findItem(state.Items, itemType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownItem, itemType)
	}

	if remainingFor(state, itemType) <= 0 {
		return nil, &engine.QuotaExhaustedError{
			Type:      itemType,
			Quota:     item.Quota,
			NextReset: state.Stats.NextReset[itemType],
		}
	}

	ev := engine.RawEvent{
		Kind: engine.KindRedeem,
		Item: itemType,
		Qty:  1,
		TS:   s.now().UTC().Format(time.RFC3339),
		ID:   uuid.NewString(),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append redeem event: %w", err)
	}
	redeemsTotal.WithLabelValues(itemType).Inc()
	s.log.Info("redeemed", "item", itemType, "event", ev.ID)

	return s.LoadState(ctx)
}

// AdmitDefeat records a failed event for an item. Failed events never
// count toward quota; they exist for the record and can be undone.
func (s *Service) AdmitDefeat(ctx context.Context, itemType string) (*engine.AllocationState, error) {
	state, err := s.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := findItem(state.Items, itemType); !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownItem, itemType)
	}

	ev := engine.RawEvent{
		Kind: engine.KindFailed,
		Item: itemType,
		Qty:  1,
		TS:   s.now().UTC().Format(time.RFC3339),
		ID:   uuid.NewString(),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append defeat event: %w", err)
	}
	defeatsTotal.WithLabelValues(itemType).Inc()
	s.log.Info("defeat admitted", "item", itemType, "event", ev.ID)

	return s.LoadState(ctx)
}

// UndoAdmitDefeat deletes the most recent failed event for an item.
func (s *Service) UndoAdmitDefeat(ctx context.Context, itemType string) (*engine.AllocationState, error) {
	evs, err := s.store.EventsByKind(ctx, itemType, engine.KindFailed)
	if err != nil {
		return nil, fmt.Errorf("query defeat events: %w", err)
	}
	if len(evs) == 0 {
		return nil, fmt.Errorf("%w: %q", engine.ErrNoFailedEvent, itemType)
	}

	latest := evs[0]
	for _, ev := range evs[1:] {
		if ev.TS > latest.TS {
			latest = ev
		}
	}
	if err := s.store.DeleteEvent(ctx, latest.ID); err != nil {
		return nil, fmt.Errorf("delete defeat event: %w", err)
	}
	s.log.Info("defeat undone", "item", itemType, "event", latest.ID)

	return s.LoadState(ctx)
}

// SaveItems replaces the configured item list and returns the reloaded
// state. Cadence labels are settled here per the configured leniency so
// the store only ever sees enum values.
func (s *Service) SaveItems(ctx context.Context, year int, items []engine.AllotmentItem) (*engine.AllocationState, error) {
	normalized, err := s.normalizeItems(items)
	if err != nil {
		return nil, err
	}
	if year == 0 {
		year = engine.PartsTZ(s.now(), s.loc).Year
	}
	if err := s.store.SaveItems(ctx, year, normalized); err != nil {
		return nil, fmt.Errorf("save items: %w", err)
	}
	s.log.Info("items saved", "year", year, "count", len(normalized))

	return s.LoadState(ctx)
}

// CommitStaged applies pending staged edits to the stored item list,
// saves the result, and clears the staging store.
func (s *Service) CommitStaged(ctx context.Context) (*engine.AllocationState, error) {
	if s.staging == nil {
		return nil, fmt.Errorf("%w: staging not configured", engine.ErrStoreUnavailable)
	}

	doc, err := s.store.FetchItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	applied := s.staging.Apply(doc.Items)
	state, err := s.SaveItems(ctx, doc.Year, applied)
	if err != nil {
		return nil, err
	}
	if err := s.staging.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear staging: %w", err)
	}
	return state, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findItem(items []engine.AllotmentItem, itemType string) (engine.AllotmentItem, bool) {
	for _, it := range items {
		if it.Type == itemType {
			return it, true
		}
	}
	return engine.AllotmentItem{}, false
}

// remainingFor reads remaining quota out of the derived buckets: items
// absent from the available bucket have nothing left.
func remainingFor(state *engine.AllocationState, itemType string) int {
	for _, a := range state.Available {
		if a.Type == itemType {
			return a.Remaining
		}
	}
	return 0
}
