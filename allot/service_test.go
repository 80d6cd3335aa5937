package allot_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
	"github.com/warp/allotment-engine/staging"
	"github.com/warp/allotment-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.May, 16, 12, 0, 0, 0, time.UTC) // Thursday

func newTestService(t *testing.T, store allot.Store) *allot.Service {
	t.Helper()
	svc, err := allot.NewService(store, staging.New("test", nil), allot.Options{
		Zone: time.UTC,
		Now:  func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func seededStore(events ...engine.RawEvent) *memory.Store {
	store := memory.New()
	store.Seed(2024, []engine.AllotmentItem{
		{Type: "CheatMeal", Quota: 1, Cadence: engine.CadenceWeekly},
		{Type: "Takeout", Quota: 3, Cadence: engine.CadenceWeekly},
	}, events)
	return store
}

func redeemEvent(item, ts, id string) engine.RawEvent {
	return engine.RawEvent{Kind: engine.KindRedeem, Item: item, Qty: 1, TS: ts, ID: id}
}

// gatedStore wraps the memory store so loads can be held open and counted.
type gatedStore struct {
	*memory.Store
	fetches atomic.Int64
	gate    chan struct{}
}

func (g *gatedStore) FetchItems(ctx context.Context) (allot.ItemsDoc, error) {
	g.fetches.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	return g.Store.FetchItems(ctx)
}

// =============================================================================
// LOAD CYCLE
// =============================================================================

func TestLoadState_DerivesFromStore(t *testing.T) {
	// GIVEN: A store with one redemption this week
	// WHEN: Loading state
	// THEN: The derived buckets reflect the ledger

	store := seededStore(redeemEvent("CheatMeal", "2024-05-15T10:00:00Z", "e1"))
	svc := newTestService(t, store)

	state, err := svc.LoadState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2024, state.Year)
	assert.Len(t, state.Available, 1, "Takeout still has quota")
	assert.Len(t, state.Unavailable, 1, "CheatMeal is spent")
	assert.Equal(t, "CheatMeal", state.Unavailable[0].Type)
}

func TestLoadState_ConcurrentCallersShareOneLoad(t *testing.T) {
	// GIVEN: A store that blocks mid-fetch
	// WHEN: Several goroutines load concurrently
	// THEN: Exactly one fetch is issued and every caller gets the result

	gated := &gatedStore{Store: seededStore(), gate: make(chan struct{})}
	svc := newTestService(t, gated)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*engine.AllocationState, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.LoadState(context.Background())
	}()

	// Wait until the first load is provably in flight, then pile on the
	// rest; they must attach, not fetch.
	require.Eventually(t, func() bool {
		return gated.fetches.Load() == 1
	}, time.Second, time.Millisecond)

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.LoadState(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gated.gate)
	wg.Wait()

	assert.Equal(t, int64(1), gated.fetches.Load(), "one fetch shared by all callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
}

func TestLoadState_NextCallAfterSettleLoadsFresh(t *testing.T) {
	// GIVEN: A completed load
	// WHEN: Loading again
	// THEN: A second fetch is issued (no stale caching)

	gated := &gatedStore{Store: seededStore()}
	svc := newTestService(t, gated)
	ctx := context.Background()

	_, err := svc.LoadState(ctx)
	require.NoError(t, err)
	_, err = svc.LoadState(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), gated.fetches.Load())
}

// corruptLedgerStore injects a garbage line into the ledger text.
type corruptLedgerStore struct {
	*memory.Store
}

func (c *corruptLedgerStore) LedgerJSONL(ctx context.Context) (string, error) {
	raw, err := c.Store.LedgerJSONL(ctx)
	if err != nil {
		return "", err
	}
	return "{corrupt\n" + raw, nil
}

func TestLoadState_LenientModeSkipsBadLedgerLines(t *testing.T) {
	// GIVEN: A ledger with a corrupt row ahead of a valid one
	// WHEN: Loading leniently
	// THEN: The load succeeds on the surviving rows

	store := &corruptLedgerStore{
		Store: seededStore(redeemEvent("CheatMeal", "2024-05-15T10:00:00Z", "e1")),
	}
	svc := newTestService(t, store)

	state, err := svc.LoadState(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Ledger, 1)
}

func TestLoadState_StrictModeAbortsOnBadLedgerLine(t *testing.T) {
	// GIVEN: The same corrupt ledger
	// WHEN: Loading strictly
	// THEN: The load fails instead of skipping

	store := &corruptLedgerStore{Store: seededStore()}
	svc, err := allot.NewService(store, nil, allot.Options{
		Zone:   time.UTC,
		Strict: true,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	_, err = svc.LoadState(context.Background())
	require.Error(t, err)
	var lineErr *engine.LineError
	assert.ErrorAs(t, err, &lineErr)
}

func TestNewService_NilStoreRejected(t *testing.T) {
	_, err := allot.NewService(nil, nil, allot.Options{})
	assert.ErrorIs(t, err, engine.ErrStoreUnavailable)
}

// =============================================================================
// REDEEM
// =============================================================================

func TestRedeem_AppendsEventAndReloads(t *testing.T) {
	// GIVEN: An item with remaining quota
	// WHEN: Redeeming
	// THEN: The returned state reflects the new event and the item flips
	//       to unavailable

	store := seededStore()
	svc := newTestService(t, store)

	state, err := svc.Redeem(context.Background(), "CheatMeal")
	require.NoError(t, err)

	require.Len(t, state.Ledger, 1)
	assert.Equal(t, "CheatMeal", state.Ledger[0].Type)
	assert.Equal(t, "2024-05-16", state.Ledger[0].Date)
	assert.NotEmpty(t, state.Ledger[0].ID)

	assert.Len(t, state.Unavailable, 1)
	assert.Equal(t, "CheatMeal", state.Unavailable[0].Type)
}

func TestRedeem_ExhaustedWindowRejectedBeforeWrite(t *testing.T) {
	// GIVEN: A weekly quota of 1 already spent this week
	// WHEN: Redeeming again
	// THEN: The call fails with the quota error and no event is written

	store := seededStore(redeemEvent("CheatMeal", "2024-05-15T10:00:00Z", "e1"))
	svc := newTestService(t, store)

	_, err := svc.Redeem(context.Background(), "CheatMeal")

	require.Error(t, err)
	var qErr *engine.QuotaExhaustedError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "CheatMeal", qErr.Type)
	assert.Equal(t, "2024-05-20", qErr.NextReset)
	assert.True(t, engine.IsClientError(err))

	state, err := svc.LoadState(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Ledger, 1, "the rejected redeem wrote nothing")
}

func TestRedeem_UnknownItemIsNotFound(t *testing.T) {
	svc := newTestService(t, seededStore())

	_, err := svc.Redeem(context.Background(), "Mystery")

	assert.ErrorIs(t, err, engine.ErrUnknownItem)
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// ADMIT DEFEAT AND UNDO
// =============================================================================

func TestAdmitDefeat_RecordsFailureWithoutSpendingQuota(t *testing.T) {
	// GIVEN: An untouched item
	// WHEN: Admitting defeat on it
	// THEN: The item stays available; the failure is on record but out of
	//       the quota ledger

	store := seededStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	state, err := svc.AdmitDefeat(ctx, "CheatMeal")
	require.NoError(t, err)

	assert.Empty(t, state.Ledger, "failed events are filtered from quota math")
	assert.Len(t, state.Available, 2)

	failed, err := store.EventsByKind(ctx, "CheatMeal", engine.KindFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestUndoAdmitDefeat_RemovesLatestFailure(t *testing.T) {
	// GIVEN: Two failed events at different times
	// WHEN: Undoing
	// THEN: Only the most recent is deleted

	store := seededStore(
		engine.RawEvent{Kind: engine.KindFailed, Item: "CheatMeal", Qty: 1, TS: "2024-05-14T08:00:00Z", ID: "f1"},
		engine.RawEvent{Kind: engine.KindFailed, Item: "CheatMeal", Qty: 1, TS: "2024-05-15T08:00:00Z", ID: "f2"},
	)
	svc := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.UndoAdmitDefeat(ctx, "CheatMeal")
	require.NoError(t, err)

	failed, err := store.EventsByKind(ctx, "CheatMeal", engine.KindFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "f1", failed[0].ID, "the older failure survives")
}

func TestUndoAdmitDefeat_NothingToUndo(t *testing.T) {
	svc := newTestService(t, seededStore())

	_, err := svc.UndoAdmitDefeat(context.Background(), "CheatMeal")

	assert.ErrorIs(t, err, engine.ErrNoFailedEvent)
	assert.True(t, engine.IsClientError(err))
}

// =============================================================================
// SAVE ITEMS AND STAGING COMMIT
// =============================================================================

func TestSaveItems_NormalizesCadenceLabels(t *testing.T) {
	// GIVEN: Items with free-text cadence labels
	// WHEN: Saving leniently
	// THEN: Labels settle to the enum, unknowns defaulting to monthly

	store := seededStore()
	svc := newTestService(t, store)

	state, err := svc.SaveItems(context.Background(), 2024, []engine.AllotmentItem{
		{Type: "A", Quota: 1, Cadence: "Week"},
		{Type: "B", Quota: 1, Cadence: "sometimes"},
	})
	require.NoError(t, err)

	require.Len(t, state.Items, 2)
	assert.Equal(t, engine.CadenceWeekly, state.Items[0].Cadence)
	assert.Equal(t, engine.CadenceMonthly, state.Items[1].Cadence)
}

func TestSaveItems_StrictModeRejectsUnknownCadence(t *testing.T) {
	store := seededStore()
	svc, err := allot.NewService(store, nil, allot.Options{
		Zone:   time.UTC,
		Strict: true,
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	_, err = svc.SaveItems(context.Background(), 2024, []engine.AllotmentItem{
		{Type: "A", Quota: 1, Cadence: "sometimes"},
	})

	assert.True(t, errors.Is(err, engine.ErrUnknownCadence))
}

func TestCommitStaged_AppliesAndClears(t *testing.T) {
	// GIVEN: A staged quota edit and a staged removal
	// WHEN: Committing
	// THEN: The stored list reflects both and staging is empty afterwards

	store := seededStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	base, err := svc.LoadState(ctx)
	require.NoError(t, err)

	five := 5
	require.NoError(t, svc.Staging().StageEdit(ctx, 0, staging.Patch{Quota: &five}, base.Items))
	require.NoError(t, svc.Staging().StageRemove(ctx, 1))

	state, err := svc.CommitStaged(ctx)
	require.NoError(t, err)

	require.Len(t, state.Items, 1)
	assert.Equal(t, "CheatMeal", state.Items[0].Type)
	assert.Equal(t, 5, state.Items[0].Quota)
	assert.False(t, svc.Staging().HasPending())
}

func TestCommitStaged_WithoutStagingConfigured(t *testing.T) {
	svc, err := allot.NewService(seededStore(), nil, allot.Options{Zone: time.UTC})
	require.NoError(t, err)

	_, err = svc.CommitStaged(context.Background())
	assert.ErrorIs(t, err, engine.ErrStoreUnavailable)
}
