package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allotment-engine/engine"
)

// =============================================================================
// LEDGER LINE SHAPES
// =============================================================================

func TestParseJSONL_CanonicalRecordsPassThrough(t *testing.T) {
	// GIVEN: A canonical ledger line with an explicit date
	// WHEN: Parsing
	// THEN: The event comes through unchanged

	text := `{"id":"e1","date":"2024-05-15","type":"CheatMeal"}`

	events, errs := engine.ParseJSONL(text)

	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, engine.LedgerEvent{ID: "e1", Date: "2024-05-15", Type: "CheatMeal"}, events[0])
}

func TestParseJSONL_RawRedeemDerivesDateFromTimestamp(t *testing.T) {
	// GIVEN: A raw event line as written by the redeem action
	// WHEN: Parsing
	// THEN: The calendar day is the first ten characters of ts and the
	//       item name becomes the event type

	text := `{"type":"redeem","item":"Soda","qty":1,"ts":"2024-05-01T12:00:00Z","id":"e1"}`

	events, errs := engine.ParseJSONL(text)

	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, engine.LedgerEvent{
		ID:   "e1",
		Date: "2024-05-01",
		Type: "Soda",
		TS:   "2024-05-01T12:00:00Z",
	}, events[0])
}

func TestParseJSONL_FailedEventsAreFilteredOut(t *testing.T) {
	// GIVEN: An admit-defeat record alongside a redemption
	// WHEN: Parsing
	// THEN: Only the redemption survives; failures never feed quota math

	text := `{"type":"failed","item":"Soda","qty":1,"ts":"2024-05-01T12:00:00Z","id":"f1"}
{"type":"redeem","item":"Soda","qty":1,"ts":"2024-05-02T08:00:00Z","id":"e2"}`

	events, errs := engine.ParseJSONL(text)

	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
}

func TestParseJSONL_RawRedeemWithShortTimestampDropped(t *testing.T) {
	// GIVEN: A raw redemption whose ts is too short to hold a date
	// WHEN: Parsing
	// THEN: The record is dropped without an error

	text := `{"type":"redeem","item":"Soda","qty":1,"ts":"2024","id":"e1"}`

	events, errs := engine.ParseJSONL(text)

	assert.Empty(t, errs)
	assert.Empty(t, events)
}

// =============================================================================
// ERROR ISOLATION
// =============================================================================

func TestParseJSONL_BadLineDoesNotAbortNeighbors(t *testing.T) {
	// GIVEN: Valid lines surrounding a malformed one
	// WHEN: Parsing
	// THEN: Both valid events survive and the bad line is reported with
	//       its 1-based line number

	text := `{"id":"e1","date":"2024-05-01","type":"A"}
{not json
{"id":"e2","date":"2024-05-02","type":"B"}`

	events, errs := engine.ParseJSONL(text)

	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)

	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Line)
	assert.Contains(t, errs[0].Error(), "ledger line 2")
}

func TestParseJSONL_BlankLinesAndUnknownShapesSkipped(t *testing.T) {
	// GIVEN: Blank lines and a JSON object matching neither shape
	// WHEN: Parsing
	// THEN: Nothing is produced and nothing errors

	text := "\n\n{\"unrelated\":true}\n   \n"

	events, errs := engine.ParseJSONL(text)

	assert.Empty(t, events)
	assert.Empty(t, errs)
}

func TestParseJSONL_EmptyInput(t *testing.T) {
	events, errs := engine.ParseJSONL("")
	assert.Empty(t, events)
	assert.Empty(t, errs)
}
