package engine

import "time"

// =============================================================================
// PERIOD STARTS AND STEPS - Natural cadence boundaries
// =============================================================================

// PeriodStart returns the natural-aligned start of the cadence period
// containing at, as a UTC instant:
//
//	weekly    -> Monday 00:00 local (ISO week start)
//	monthly   -> first of the local month, 00:00
//	quarterly -> first of the local month, 00:00 (only the step differs)
//	yearly    -> January 1st local, 00:00
//
// Quarterly deliberately shares the monthly start: its windows are
// three-month blocks advanced from wherever the cycle anchors, not fiscal
// quarters.
func PeriodStart(c Cadence, at time.Time, loc *time.Location) time.Time {
	p := PartsTZ(at, loc)
	switch c {
	case CadenceWeekly:
		// Weekday numbering is Sunday=0; (wd+6)%7 gives the Monday offset.
		offset := (int(LocalWeekday(at, loc)) + 6) % 7
		y, m, d := AddLocalDays(p.Year, p.Month, p.Day, -offset)
		return ZonedUTC(loc, y, m, d, 0, 0, 0)
	case CadenceYearly:
		return ZonedUTC(loc, p.Year, time.January, 1, 0, 0, 0)
	default: // monthly, quarterly
		return ZonedUTC(loc, p.Year, p.Month, 1, 0, 0, 0)
	}
}

// Step advances a period start by n cadence units and returns the new
// start. start must be a local-midnight instant in loc (as produced by
// PeriodStart or a previous Step).
//
//	weekly    -> n*7 local days
//	monthly   -> n calendar months, clamped to the 1st
//	quarterly -> 3n calendar months, clamped to the 1st
//	yearly    -> January 1st of year+n (always resets to Jan 1)
//
// For n >= 1 the result is strictly after start, which is what guarantees
// termination of the cycle-advancing loop in BuildWindow.
func Step(c Cadence, start time.Time, n int, loc *time.Location) time.Time {
	p := PartsTZ(start, loc)
	switch c {
	case CadenceWeekly:
		y, m, d := AddLocalDays(p.Year, p.Month, p.Day, 7*n)
		return ZonedUTC(loc, y, m, d, 0, 0, 0)
	case CadenceMonthly:
		return ZonedUTC(loc, p.Year, p.Month+time.Month(n), 1, 0, 0, 0)
	case CadenceQuarterly:
		return ZonedUTC(loc, p.Year, p.Month+time.Month(3*n), 1, 0, 0, 0)
	case CadenceYearly:
		return ZonedUTC(loc, p.Year+n, time.January, 1, 0, 0, 0)
	default:
		return ZonedUTC(loc, p.Year, p.Month+time.Month(n), 1, 0, 0, 0)
	}
}
