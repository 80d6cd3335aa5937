/*
derive.go - Bucket and stats derivation

PURPOSE:
  The full recomputation pass: for every configured item, combine its
  current window with the ledger to produce remaining quota, usage
  percentage, next-reset date, and bucket membership, then sort buckets
  by policy. Runs on every load; there is no incremental path. Item and
  ledger cardinality is tens to low hundreds, so the repeated window and
  ledger scans are cheap.

BUCKET POLICY:
  remaining > 0          -> available
  remaining <= 0         -> unavailable, and additionally coming_up when
                            the reset is within the cadence threshold
                            (3 days weekly, 14 days otherwise)
  coming_up sorts ascending by days-until-reset; unavailable sorts
  descending by this-year redemption count; available keeps item order.
*/
package engine

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RecomputeDerived rebuilds the three buckets and stats of s in place for
// the given instant and zone. Items keep their configured order within
// the available bucket.
func RecomputeDerived(s *AllocationState, now time.Time, loc *time.Location) {
	s.Available = []AvailableEntry{}
	s.ComingUp = []ComingUpEntry{}
	s.Unavailable = []UnavailableEntry{}
	s.Stats = Stats{
		UsageCounts: make(map[string]int, len(s.Items)),
		Percentages: make(map[string]int, len(s.Items)),
		NextReset:   make(map[string]string, len(s.Items)),
	}

	year := PartsTZ(now, loc).Year
	if s.Year == 0 {
		s.Year = year
	}

	// All-time counts are global, independent of per-item windowing.
	for _, e := range s.Ledger {
		s.Stats.UsageCounts[e.Type]++
	}

	for _, item := range s.Items {
		events := eventsFor(s.Ledger, item.Type)
		mult := item.EffectiveMultiplier()
		w := BuildWindow(now, item.Cadence, mult, loc, events)

		used := usedInWindow(events, w, loc)
		remaining := item.Quota - used
		if remaining < 0 {
			remaining = 0
		}
		// One redemption exhausts the whole cycle for low-quota items
		// spanning multiple periods.
		if mult > 1 && item.Quota == 1 && used >= 1 {
			remaining = 0
		}

		s.Stats.Percentages[item.Type] = usagePercent(used, item.Quota)
		s.Stats.NextReset[item.Type] = ISODateTZ(w.End, loc)

		if remaining > 0 {
			s.Available = append(s.Available, AvailableEntry{
				Type:      item.Type,
				Remaining: remaining,
				Total:     item.Quota,
			})
			continue
		}

		last, count := yearUsage(events, year)
		s.Unavailable = append(s.Unavailable, UnavailableEntry{
			Type:          item.Type,
			LastRedeemed:  last,
			CountThisYear: count,
		})

		if du := daysUntil(now, w.End, loc); du <= item.Cadence.ComingUpThresholdDays() {
			s.ComingUp = append(s.ComingUp, ComingUpEntry{
				Type:           item.Type,
				DaysUntil:      du,
				QuotaAvailable: item.Quota,
			})
		}
	}

	sort.SliceStable(s.ComingUp, func(i, j int) bool {
		return s.ComingUp[i].DaysUntil < s.ComingUp[j].DaysUntil
	})
	sort.SliceStable(s.Unavailable, func(i, j int) bool {
		return s.Unavailable[i].CountThisYear > s.Unavailable[j].CountThisYear
	})
}

func eventsFor(ledger []LedgerEvent, itemType string) []LedgerEvent {
	var out []LedgerEvent
	for _, e := range ledger {
		if e.Type == itemType {
			out = append(out, e)
		}
	}
	return out
}

// usedInWindow counts events whose calendar day falls inside the window.
// Counting is day-level: the event's Date field at local midnight, not
// its precise instant, is compared against the zone-exact boundaries.
func usedInWindow(events []LedgerEvent, w Window, loc *time.Location) int {
	used := 0
	for _, e := range events {
		d, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			continue
		}
		day := ZonedUTC(loc, d.Year(), d.Month(), d.Day(), 0, 0, 0)
		if w.Contains(day) {
			used++
		}
	}
	return used
}

// usagePercent is round(used/quota*100) capped at 100, and 0 when the
// quota itself is 0.
func usagePercent(used, quota int) int {
	if quota <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(used)).
		Div(decimal.NewFromInt(int64(quota))).
		Mul(hundred).
		Round(0)
	if pct.GreaterThan(hundred) {
		return 100
	}
	return int(pct.IntPart())
}

// daysUntil is the whole local days between the local midnight of now and
// the local midnight of target, rounding any partial day (DST makes local
// days 23 or 25 hours) upward.
func daysUntil(now, target time.Time, loc *time.Location) int {
	from := LocalMidnight(now, loc)
	to := LocalMidnight(target, loc)
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

// yearUsage returns the most recent redemption date within the given
// calendar year (or NeverRedeemed) and the count of redemptions that year.
// ISO dates compare lexicographically, so string comparison is enough.
func yearUsage(events []LedgerEvent, year int) (string, int) {
	last := NeverRedeemed
	count := 0
	for _, e := range events {
		d, err := time.Parse("2006-01-02", e.Date)
		if err != nil || d.Year() != year {
			continue
		}
		count++
		if last == NeverRedeemed || e.Date > last {
			last = e.Date
		}
	}
	return last, count
}
