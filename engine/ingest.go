/*
ingest.go - Ledger ingest and normalization

PURPOSE:
  The ledger travels as newline-delimited JSON. Two record shapes are
  tolerated:

    canonical:  {"id":"..","date":"YYYY-MM-DD","type":"<item>"}
    raw event:  {"type":"redeem","item":"<item>","qty":1,
                 "ts":"2024-05-01T12:00:00Z","id":".."}

  Canonical records pass through as-is. Raw records are kept only when
  their kind is "redeem"; the calendar day is derived from the first ten
  characters of ts. Admit-defeat ("failed") records are written to the
  same log but never count toward quota, so they are filtered out here
  and read back through a direct query path instead.

ERROR POLICY:
  A malformed line never corrupts its neighbors. Each line is parsed
  independently; failures are reported per line so the caller can choose
  between skip-and-log (lenient, the default) and abort-the-batch
  (strict).
*/
package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event kinds as recorded in raw ledger records.
const (
	KindRedeem = "redeem"
	KindFailed = "failed"
)

// RawEvent is the wire shape of a ledger row as written by the redemption
// and admit-defeat actions.
type RawEvent struct {
	Kind string `json:"type"`
	Item string `json:"item"`
	Qty  int    `json:"qty"`
	TS   string `json:"ts"`
	ID   string `json:"id"`
}

// LineError reports a single unparseable ledger line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("ledger line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseJSONL parses newline-delimited JSON into canonical ledger events.
// Blank lines are skipped. Records that parse but match neither tolerated
// shape are dropped silently; records that are not valid JSON are
// reported in errs, one entry per bad line, without aborting the rest.
func ParseJSONL(text string) (events []LedgerEvent, errs []*LineError) {
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var rec struct {
			ID   string `json:"id"`
			Date string `json:"date"`
			Type string `json:"type"`
			Item string `json:"item"`
			TS   string `json:"ts"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			errs = append(errs, &LineError{Line: i + 1, Err: err})
			continue
		}

		switch {
		case rec.Date != "":
			// Canonical shape.
			events = append(events, LedgerEvent{
				ID:   rec.ID,
				Date: rec.Date,
				Type: rec.Type,
				TS:   rec.TS,
			})
		case rec.Item != "":
			// Raw event shape; only redemptions feed quota math.
			if rec.Type != KindRedeem || len(rec.TS) < 10 {
				continue
			}
			events = append(events, LedgerEvent{
				ID:   rec.ID,
				Date: rec.TS[:10],
				Type: rec.Item,
				TS:   rec.TS,
			})
		}
	}
	return events, errs
}
