// Package memory provides in-memory store implementations (for testing/dev).
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory items + ledger + staging KV
// =============================================================================

// Store implements allot.Store and staging.KV backed by process memory.
type Store struct {
	mu     sync.RWMutex
	year   int
	items  []engine.AllotmentItem
	events []engine.RawEvent
	kv     map[string][]byte
}

func New() *Store {
	return &Store{kv: make(map[string][]byte)}
}

// Seed replaces all contents. Test and demo convenience.
func (m *Store) Seed(year int, items []engine.AllotmentItem, events []engine.RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.year = year
	m.items = append([]engine.AllotmentItem(nil), items...)
	m.events = append([]engine.RawEvent(nil), events...)
}

// -----------------------------------------------------------------------------
// allot.ItemStore
// -----------------------------------------------------------------------------

func (m *Store) FetchItems(_ context.Context) (allot.ItemsDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allot.ItemsDoc{
		Year:  m.year,
		Items: append([]engine.AllotmentItem(nil), m.items...),
	}, nil
}

func (m *Store) SaveItems(_ context.Context, year int, items []engine.AllotmentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.year = year
	m.items = append([]engine.AllotmentItem(nil), items...)
	return nil
}

// -----------------------------------------------------------------------------
// allot.LedgerStore
// -----------------------------------------------------------------------------

func (m *Store) LedgerJSONL(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := append([]engine.RawEvent(nil), m.events...)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].TS < evs[j].TS })

	var b strings.Builder
	for _, ev := range evs {
		line, err := json.Marshal(ev)
		if err != nil {
			return "", err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (m *Store) AppendEvent(_ context.Context, ev engine.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Store) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ev := range m.events {
		if ev.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Store) EventsByKind(_ context.Context, itemType, kind string) ([]engine.RawEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.RawEvent
	for _, ev := range m.events {
		if ev.Item == itemType && ev.Kind == kind {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS > out[j].TS })
	return out, nil
}

// -----------------------------------------------------------------------------
// staging.KV
// -----------------------------------------------------------------------------

func (m *Store) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Store) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = append([]byte(nil), value...)
	return nil
}

func (m *Store) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}
