/*
Package allot is the allotment service layer.

PURPOSE:
  Ties the pure engine to a persistence port: loads items and the ledger,
  runs the derivation, and executes the mutating actions (redeem, admit
  defeat, undo, save items). Every mutation is followed by a full reload
  so callers never reconcile optimistic state against store truth.

PORTS:
  The actual transport behind ItemStore/LedgerStore is out of scope here;
  sqlite, in-memory, and webhook implementations live under store/.
*/
package allot

import (
	"context"

	"github.com/warp/allotment-engine/engine"
)

// ItemsDoc is the canonical shape of the items payload after unwrapping.
type ItemsDoc struct {
	Year  int                    `json:"year"`
	Items []engine.AllotmentItem `json:"items"`
}

// ItemStore persists the allotment rule list.
type ItemStore interface {
	// FetchItems returns the configured items and their year.
	FetchItems(ctx context.Context) (ItemsDoc, error)

	// SaveItems replaces the list by diff: items are upserted by type and
	// previously stored types missing from the new list are deleted.
	SaveItems(ctx context.Context, year int, items []engine.AllotmentItem) error
}

// LedgerStore persists redemption and admit-defeat events.
type LedgerStore interface {
	// LedgerJSONL returns the raw ledger as newline-delimited JSON in the
	// raw event shape, oldest first.
	LedgerJSONL(ctx context.Context) (string, error)

	// AppendEvent appends one event. Events are immutable once written.
	AppendEvent(ctx context.Context, ev engine.RawEvent) error

	// DeleteEvent removes an event by ID. Only used by the explicit undo
	// of the most recent admit-defeat.
	DeleteEvent(ctx context.Context, id string) error

	// EventsByKind returns events for one item filtered by kind, most
	// recent first.
	EventsByKind(ctx context.Context, itemType, kind string) ([]engine.RawEvent, error)
}

// Store bundles both ports; the concrete stores implement it.
type Store interface {
	ItemStore
	LedgerStore
}
