/*
handlers_test.go - HTTP-level tests for the allotment API

Tests for:
- State retrieval and error envelopes
- Redeem / defeat / undo actions and their status codes
- Item list replacement
- The staging endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/api"
	"github.com/warp/allotment-engine/engine"
	"github.com/warp/allotment-engine/staging"
	"github.com/warp/allotment-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2024, time.May, 16, 12, 0, 0, 0, time.UTC) // Thursday

func newTestServer(t *testing.T, events ...engine.RawEvent) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.Seed(2024, []engine.AllotmentItem{
		{Type: "CheatMeal", Quota: 1, Cadence: engine.CadenceWeekly},
		{Type: "Takeout", Quota: 3, Cadence: engine.CadenceWeekly},
	}, events)

	svc, err := allot.NewService(store, staging.New("test", store), allot.Options{
		Zone: time.UTC,
		Now:  func() time.Time { return testNow },
	})
	require.NoError(t, err)

	h := api.NewHandler(svc, nil)
	h.SeedStore = store
	ts := httptest.NewServer(api.NewRouter(h, nil))
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeState(t *testing.T, resp *http.Response) engine.AllocationState {
	t.Helper()
	defer resp.Body.Close()
	var state engine.AllocationState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

// =============================================================================
// STATE
// =============================================================================

func TestGetState_ReturnsDerivedBuckets(t *testing.T) {
	ts, _ := newTestServer(t, engine.RawEvent{
		Kind: engine.KindRedeem, Item: "CheatMeal", Qty: 1,
		TS: "2024-05-15T10:00:00Z", ID: "e1",
	})

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	assert.Equal(t, 2024, state.Year)
	assert.Len(t, state.Available, 1)
	assert.Len(t, state.Unavailable, 1)
	assert.Equal(t, "CheatMeal", state.Unavailable[0].Type)
}

// =============================================================================
// ACTIONS
// =============================================================================

func TestRedeem_HappyPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/CheatMeal/redeem", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	require.Len(t, state.Ledger, 1)
	assert.Equal(t, "CheatMeal", state.Ledger[0].Type)
}

func TestRedeem_Exhausted_Conflict(t *testing.T) {
	// GIVEN: The weekly quota of 1 already spent
	// WHEN: Redeeming over HTTP
	// THEN: 409 with the error envelope

	ts, _ := newTestServer(t, engine.RawEvent{
		Kind: engine.KindRedeem, Item: "CheatMeal", Qty: 1,
		TS: "2024-05-15T10:00:00Z", ID: "e1",
	})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/CheatMeal/redeem", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var envelope api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "Failed to redeem", envelope.Error)
	assert.Contains(t, envelope.Details, "CheatMeal")
}

func TestRedeem_UnknownItem_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/Mystery/redeem", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDefeatAndUndo_RoundTrip(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/CheatMeal/defeat", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	failed, err := store.EventsByKind(ctx, "CheatMeal", engine.KindFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/items/CheatMeal/defeat/undo", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	failed, err = store.EventsByKind(ctx, "CheatMeal", engine.KindFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestUndoDefeat_NothingToUndo_Conflict(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/CheatMeal/defeat/undo", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSaveItems_ReplacesList(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/items/", api.SaveItemsRequest{
		Year: 2024,
		Items: []api.ItemPayload{
			{Type: "Vinyl", Quota: 1, Cadence: "Month"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	require.Len(t, state.Items, 1)
	assert.Equal(t, "Vinyl", state.Items[0].Type)
	assert.Equal(t, engine.CadenceMonthly, state.Items[0].Cadence, "free-text cadence normalized")
}

func TestSaveItems_BadBody_BadRequest(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/items/", "application/json", bytes.NewBufferString("{broken"))
	require.NoError(t, err)
	resp.Body.Close()
	// Route is PUT-only; POST falls through to chi's 405.
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/items/", bytes.NewBufferString("{broken"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// STAGING
// =============================================================================

func TestStaging_EditCommitFlow(t *testing.T) {
	// GIVEN: A staged quota edit
	// WHEN: Committing over HTTP
	// THEN: The stored list changes and staging drains

	ts, _ := newTestServer(t)
	five := 5

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/staging/edit", api.StageEditRequest{
		Index: 0,
		Patch: staging.Patch{Quota: &five},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var changes staging.Changes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&changes))
	require.Contains(t, changes.Updates, 0)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/staging/commit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeState(t, resp)
	require.NotEmpty(t, state.Items)
	assert.Equal(t, 5, state.Items[0].Quota)

	resp, err := http.Get(ts.URL + "/api/staging/")
	require.NoError(t, err)
	defer resp.Body.Close()
	var after staging.Changes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&after))
	assert.Empty(t, after.Updates)
	assert.Empty(t, after.Removes)
}

func TestStaging_DiscardDropsEverything(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/staging/remove", api.StageRemoveRequest{Index: 1})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/staging/discard", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var changes staging.Changes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&changes))
	assert.Empty(t, changes.Updates)
	assert.Empty(t, changes.Removes)
}

// =============================================================================
// SEED AND HEALTH
// =============================================================================

func TestLoadSeed_PopulatesStore(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	assert.Len(t, state.Items, 6)
	assert.NotEmpty(t, state.Ledger, "seed history carries redemptions")
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
