/*
tzmath.go - Zone-anchored calendar arithmetic

PURPOSE:
  Converts between UTC instants and local wall-clock calendar fields in an
  arbitrary IANA zone, and does pure Gregorian day arithmetic. Every
  "period start" in this package is a local day boundary expressed as a
  UTC instant, so day-level ledger comparisons stay correct across DST
  transitions.

DST BEHAVIOR:
  ZonedUTC delegates the offset resolution to the Go runtime's zone
  database via time.Date. For wall-clock fields that do not exist in the
  target zone (the spring-forward gap) the result is the normalized
  nearest representable instant; ambiguous fields (the fall-back overlap)
  resolve to one of the two valid instants. Both are acceptable here
  because period starts are midnights, which almost no zone skips.
*/
package engine

import "time"

// DateParts are the local calendar and clock fields of an instant in some
// zone.
type DateParts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// PartsTZ decomposes a UTC instant into local fields for loc.
func PartsTZ(t time.Time, loc *time.Location) DateParts {
	lt := t.In(loc)
	return DateParts{
		Year:   lt.Year(),
		Month:  lt.Month(),
		Day:    lt.Day(),
		Hour:   lt.Hour(),
		Minute: lt.Minute(),
		Second: lt.Second(),
	}
}

// ZonedUTC is the inverse of PartsTZ: the UTC instant whose local
// representation in loc equals the given fields.
func ZonedUTC(loc *time.Location, year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, loc).UTC()
}

// AddLocalDays shifts a calendar date by a number of days, ignoring
// time-of-day and zone. Month and year rollover follow the Gregorian
// calendar (a UTC-anchored intermediate keeps the normalization exact).
func AddLocalDays(year int, month time.Month, day, days int) (int, time.Month, int) {
	t := time.Date(year, month, day+days, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month(), t.Day()
}

// LocalMidnight returns the instant of 00:00 local time on the local day
// containing t.
func LocalMidnight(t time.Time, loc *time.Location) time.Time {
	p := PartsTZ(t, loc)
	return ZonedUTC(loc, p.Year, p.Month, p.Day, 0, 0, 0)
}

// ISODateTZ formats the local calendar date of t in loc as YYYY-MM-DD.
func ISODateTZ(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// LocalWeekday returns the weekday of t's local day in loc.
func LocalWeekday(t time.Time, loc *time.Location) time.Weekday {
	return t.In(loc).Weekday()
}
