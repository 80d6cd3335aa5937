/*
Package engine contains the pure computation core of the allotment system.

PURPOSE:
  An allotment is a self-imposed quota on a recurring indulgence or habit
  ("2 cheat meals per week", "1 new gadget every 2 months"). This package
  turns a list of allotment rules plus a ledger of timestamped redemption
  events into derived availability state: which items can still be redeemed
  in the current window, which are exhausted, and which reset soon.

KEY CONCEPTS IN THIS FILE (types.go):
  - AllotmentItem: A quota rule (quota per cadence window, with multiplier)
  - LedgerEvent:   An immutable redemption fact (calendar day + instant)
  - Window:        The half-open [Start, End) instant range a rule is
                   currently measured against
  - AllocationState: The full derived snapshot handed to callers

DESIGN PRINCIPLES:
  1. Purity: nothing in this package performs I/O or reads the wall clock.
     "Now" and the time zone are always explicit arguments.
  2. Total recomputation: derived state is rebuilt from scratch on every
     call. No memoization, no incremental updates.
  3. Zone exactness: window boundaries are real UTC instants anchored to
     local wall-clock day boundaries in an arbitrary IANA zone.

SEE ALSO:
  - period.go: cadence-aligned period starts and step arithmetic
  - window.go: the current-window builder
  - derive.go: bucket and stats derivation
  - ingest.go: JSONL ledger parsing
*/
package engine

import "time"

// =============================================================================
// ALLOTMENT ITEM - A quota rule
// =============================================================================

// AllotmentItem is one quota rule, keyed by Type.
//
// Quota is the number of redemptions allowed per window. Multiplier widens
// the window to that many cadence units; 1 (or 0, treated as 1) means the
// natural calendar-aligned period.
type AllotmentItem struct {
	Type       string  `json:"type"`
	Quota      int     `json:"quota"`
	Cadence    Cadence `json:"cadence"`
	Multiplier int     `json:"multiplier,omitempty"`
}

// EffectiveMultiplier returns the multiplier with the default applied.
func (i AllotmentItem) EffectiveMultiplier() int {
	if i.Multiplier < 1 {
		return 1
	}
	return i.Multiplier
}

// =============================================================================
// LEDGER EVENT - An immutable redemption fact
// =============================================================================

// LedgerEvent is a canonical redemption record. Date is the calendar day
// (YYYY-MM-DD) used for usage counting; TS, when present, is the original
// ISO-8601 instant and is preferred for window anchoring.
//
// Events are never mutated. The only deletion path is the explicit undo of
// the most recent admit-defeat record, which happens below this layer.
type LedgerEvent struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Type string `json:"type"`
	TS   string `json:"ts,omitempty"`
}

// Instant resolves the event to a UTC instant: the precise TS when it
// parses, otherwise local midnight of Date in loc. ok is false when
// neither field yields a usable time.
func (e LedgerEvent) Instant(loc *time.Location) (time.Time, bool) {
	if e.TS != "" {
		if t, err := time.Parse(time.RFC3339, e.TS); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.Parse("2006-01-02", e.Date); err == nil {
		return ZonedUTC(loc, t.Year(), t.Month(), t.Day(), 0, 0, 0), true
	}
	return time.Time{}, false
}

// =============================================================================
// WINDOW - Half-open instant range
// =============================================================================

// Window is the half-open [Start, End) range a rule is measured against.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// =============================================================================
// DERIVED BUCKETS - Ephemeral, recomputed every load
// =============================================================================

// AvailableEntry is an item with quota left in its current window.
type AvailableEntry struct {
	Type      string `json:"type"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// ComingUpEntry is an exhausted item whose next reset is near.
type ComingUpEntry struct {
	Type           string `json:"type"`
	DaysUntil      int    `json:"daysUntil"`
	QuotaAvailable int    `json:"quotaAvailable"`
}

// UnavailableEntry is an exhausted item. LastRedeemed is the most recent
// redemption date within the current calendar year, or the literal
// string "Never".
type UnavailableEntry struct {
	Type          string `json:"type"`
	LastRedeemed  string `json:"lastRedeemed"`
	CountThisYear int    `json:"countThisYear"`
}

// Stats holds per-item aggregates keyed by item type.
//
// UsageCounts are all-time ledger counts, not windowed. Percentages are
// window usage as 0..100. NextReset is the local calendar date of the
// window end in the derivation zone.
type Stats struct {
	UsageCounts map[string]int    `json:"usageCounts"`
	Percentages map[string]int    `json:"percentages"`
	NextReset   map[string]string `json:"nextReset"`
}

// AllocationState is the full snapshot: configured items, the canonical
// ledger, and the three derived buckets plus stats.
//
// Every item appears in exactly one of Available or Unavailable. ComingUp
// is a subset of the unavailable items.
type AllocationState struct {
	Year        int                `json:"year"`
	Items       []AllotmentItem    `json:"items"`
	Ledger      []LedgerEvent      `json:"ledger"`
	Available   []AvailableEntry   `json:"available"`
	ComingUp    []ComingUpEntry    `json:"coming_up"`
	Unavailable []UnavailableEntry `json:"unavailable"`
	Stats       Stats              `json:"stats"`
}

// NeverRedeemed is the LastRedeemed marker for items without a redemption
// in the current calendar year.
const NeverRedeemed = "Never"
