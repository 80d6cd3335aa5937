/*
seed.go - Demo dataset loader

PURPOSE:
  Loads one canned dataset of items and ledger history so a fresh
  deployment has something to render. Development convenience only; the
  endpoint overwrites the stored item list.
*/
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allotment-engine/engine"
)

// Store gives the seed loader direct write access to the persistence
// port. Nil disables the endpoint.
func (h *Handler) withStore() bool { return h.SeedStore != nil }

// LoadSeed populates the store with the demo dataset and returns the
// derived state.
func (h *Handler) LoadSeed(w http.ResponseWriter, r *http.Request) {
	if !h.withStore() {
		writeError(w, http.StatusNotFound, "Seeding not configured", nil)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	year := now.Year()

	items := []engine.AllotmentItem{
		{Type: "CheatMeal", Quota: 2, Cadence: engine.CadenceWeekly},
		{Type: "TakeoutCoffee", Quota: 3, Cadence: engine.CadenceWeekly},
		{Type: "NewGadget", Quota: 1, Cadence: engine.CadenceMonthly, Multiplier: 2},
		{Type: "FancyDinner", Quota: 1, Cadence: engine.CadenceMonthly},
		{Type: "WeekendTrip", Quota: 1, Cadence: engine.CadenceQuarterly},
		{Type: "WardrobeRefresh", Quota: 2, Cadence: engine.CadenceYearly},
	}
	if err := h.SeedStore.SaveItems(ctx, year, items); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed items", err)
		return
	}

	// A little history: one coffee today, a cheat meal last week, and a
	// gadget purchase that anchors the 2-month cycle.
	history := []struct {
		item string
		kind string
		ago  time.Duration
	}{
		{"TakeoutCoffee", engine.KindRedeem, 6 * time.Hour},
		{"CheatMeal", engine.KindRedeem, 8 * 24 * time.Hour},
		{"NewGadget", engine.KindRedeem, 20 * 24 * time.Hour},
		{"FancyDinner", engine.KindFailed, 3 * 24 * time.Hour},
	}
	for i, hrow := range history {
		ev := engine.RawEvent{
			Kind: hrow.kind,
			Item: hrow.item,
			Qty:  1,
			TS:   now.Add(-hrow.ago).Format(time.RFC3339),
			ID:   fmt.Sprintf("seed-%d-%s", i, uuid.NewString()[:8]),
		}
		if err := h.SeedStore.AppendEvent(ctx, ev); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to seed ledger", err)
			return
		}
	}

	state, err := h.Service.LoadState(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load seeded state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
