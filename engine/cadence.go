package engine

import (
	"fmt"
	"strings"
)

// =============================================================================
// CADENCE - The closed reset-frequency enum
// =============================================================================

// Cadence is how often an allotment window naturally resets.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
)

// ParseCadence maps a free-text cadence label to the enum. It is
// case-insensitive and accepts both noun and adjective forms
// ("week"/"weekly", "month"/"monthly", ...). Unrecognized input is an
// error; callers that want the historical lenient behavior use
// NormalizeCadence instead.
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "week", "weekly":
		return CadenceWeekly, nil
	case "month", "monthly":
		return CadenceMonthly, nil
	case "quarter", "quarterly":
		return CadenceQuarterly, nil
	case "year", "yearly", "annual", "annually":
		return CadenceYearly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
	}
}

// NormalizeCadence is the lenient form of ParseCadence: anything it cannot
// recognize becomes monthly. This mirrors how partially migrated item
// lists were tolerated; strict deployments should call ParseCadence.
func NormalizeCadence(s string) Cadence {
	c, err := ParseCadence(s)
	if err != nil {
		return CadenceMonthly
	}
	return c
}

// ComingUpThresholdDays is how close (in whole local days) an exhausted
// item's reset must be for it to surface in the coming-up bucket.
func (c Cadence) ComingUpThresholdDays() int {
	if c == CadenceWeekly {
		return 3
	}
	return 14
}

// Valid reports whether c is one of the four known cadences.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceWeekly, CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}
