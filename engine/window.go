/*
window.go - Current-window computation

PURPOSE:
  Determines the half-open [start, end) instant window an allotment rule
  is currently measured against.

TWO REGIMES:
  multiplier == 1: the window is the natural calendar-aligned period
  (Monday week, first-of-month, Jan 1 year). Stateless.

  multiplier > 1: the window is a rolling cycle pinned to first use. A
  "1 every 2 months" item does not reset on even calendar months; its
  cycle begins at the period-aligned start of the first-ever redemption
  and advances in full multiplier-sized steps. The domain meaning is
  "you get quota once every N cadence units starting from when you
  started using this".
*/
package engine

import (
	"sort"
	"time"
)

// BuildWindow computes the current window for one item. events are the
// ledger events for that item in any order; unparseable dates are ignored.
//
// Invariant: the returned window always satisfies start <= now < end, and
// is never empty, even with multiplier > 1 and zero redemptions (the
// natural start is used, stepped by the full multiplier, so the first
// window already has the multiplier-sized span).
func BuildWindow(now time.Time, c Cadence, multiplier int, loc *time.Location, events []LedgerEvent) Window {
	if multiplier <= 1 {
		start := PeriodStart(c, now, loc)
		return Window{Start: start, End: Step(c, start, 1, loc)}
	}

	anchor, ok := firstRedemption(events, loc)
	if !ok {
		start := PeriodStart(c, now, loc)
		return Window{Start: start, End: Step(c, start, multiplier, loc)}
	}

	// Advance whole cycles from the anchor until the window contains now.
	// Step is strictly increasing for multiplier >= 1, so this terminates.
	start := PeriodStart(c, anchor, loc)
	for {
		next := Step(c, start, multiplier, loc)
		if next.After(now) {
			return Window{Start: start, End: next}
		}
		start = next
	}
}

// firstRedemption returns the earliest resolvable event instant.
func firstRedemption(events []LedgerEvent, loc *time.Location) (time.Time, bool) {
	instants := make([]time.Time, 0, len(events))
	for _, e := range events {
		if t, ok := e.Instant(loc); ok {
			instants = append(instants, t)
		}
	}
	if len(instants) == 0 {
		return time.Time{}, false
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })
	return instants[0], true
}
