/*
Package staging holds pending edits to the allotment item list.

PURPOSE:
  Item edits made in a dashboard session are not written to the backend
  immediately. They accumulate here as a patch set applied on top of the
  base list, survive a reload within the session through a small KV
  mirror, and are consumed in one shot on commit (or dropped on discard).

KEYING:
  Patches are keyed by array index, not by stable item identity. That
  matches the original edit semantics exactly but is fragile if the base
  list is reordered underneath a session; callers must not reorder items
  while edits are pending.

LIFECYCLE:
  StageEdit merges into any pending patch for the index, dropping fields
  that equal the original value again (edit-then-revert leaves no
  residue). A patch whose last field reverts disappears entirely unless
  it marks a brand-new item. StageRemove marks an index for deletion and
  discards its pending edit. Apply produces the working list; Clear wipes
  both maps, in memory and in the KV mirror.
*/
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/allotment-engine/engine"
)

// Defaults for fields a brand-new staged item never filled in.
const (
	DefaultNewType    = "New Item"
	DefaultNewQuota   = 1
	DefaultMultiplier = 1
)

// KV is the session-scoped persistence used to rehydrate staged changes
// after a reload. Get returns nil for an absent key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Patch is a partial edit to the item at one index. Nil fields are
// unchanged; a non-nil field is staged. IsNew marks an index beyond the
// base list, i.e. an item that exists only in staging.
type Patch struct {
	Type       *string `json:"type,omitempty"`
	Quota      *int    `json:"quota,omitempty"`
	Cadence    *string `json:"cadence,omitempty"`
	Multiplier *int    `json:"multiplier,omitempty"`
	IsNew      bool    `json:"is_new,omitempty"`
}

func (p Patch) empty() bool {
	return p.Type == nil && p.Quota == nil && p.Cadence == nil && p.Multiplier == nil
}

// Changes is the snapshot handed to callers: pending patches by index and
// indices staged for removal.
type Changes struct {
	Updates map[int]Patch `json:"updates"`
	Removes []int         `json:"removes"`
}

// Store is the staging patch set. The in-memory maps are the source of
// truth during a session; the KV copy only exists for rehydration.
type Store struct {
	mu      sync.Mutex
	kv      KV
	nsEdits string
	nsRems  string
	updates map[int]Patch
	removes map[int]bool
}

// New creates a staging store persisting under the given key namespace
// (e.g. "staged-alloc" yields "staged-alloc-updates"/"staged-alloc-removes").
// kv may be nil for a purely in-memory store.
func New(namespace string, kv KV) *Store {
	return &Store{
		kv:      kv,
		nsEdits: namespace + "-updates",
		nsRems:  namespace + "-removes",
		updates: make(map[int]Patch),
		removes: make(map[int]bool),
	}
}

// Load rehydrates staged state from the KV mirror. Missing keys are not
// errors; corrupt payloads are.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, err := s.kv.Get(ctx, s.nsEdits); err != nil {
		return fmt.Errorf("load staged updates: %w", err)
	} else if raw != nil {
		if err := json.Unmarshal(raw, &s.updates); err != nil {
			return fmt.Errorf("decode staged updates: %w", err)
		}
	}

	if raw, err := s.kv.Get(ctx, s.nsRems); err != nil {
		return fmt.Errorf("load staged removes: %w", err)
	} else if raw != nil {
		var rems []int
		if err := json.Unmarshal(raw, &rems); err != nil {
			return fmt.Errorf("decode staged removes: %w", err)
		}
		for _, idx := range rems {
			s.removes[idx] = true
		}
	}
	return nil
}

// StageEdit merges a patch for the item at index. Fields equal to the
// original base value are dropped from the pending patch; if nothing
// remains staged and the patch is not a new item, the patch is deleted.
func (s *Store) StageEdit(ctx context.Context, index int, p Patch, base []engine.AllotmentItem) error {
	if index < 0 {
		return fmt.Errorf("stage edit: negative index %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.updates[index]
	if p.Type != nil {
		merged.Type = p.Type
	}
	if p.Quota != nil {
		merged.Quota = p.Quota
	}
	if p.Cadence != nil {
		merged.Cadence = p.Cadence
	}
	if p.Multiplier != nil {
		merged.Multiplier = p.Multiplier
	}

	if index >= len(base) {
		merged.IsNew = true
	} else {
		orig := base[index]
		if merged.Type != nil && *merged.Type == orig.Type {
			merged.Type = nil
		}
		if merged.Quota != nil && *merged.Quota == orig.Quota {
			merged.Quota = nil
		}
		if merged.Cadence != nil && engine.Cadence(*merged.Cadence) == orig.Cadence {
			merged.Cadence = nil
		}
		if merged.Multiplier != nil && *merged.Multiplier == orig.EffectiveMultiplier() {
			merged.Multiplier = nil
		}
	}

	if merged.empty() && !merged.IsNew {
		delete(s.updates, index)
	} else {
		s.updates[index] = merged
	}
	return s.persistLocked(ctx)
}

// StageRemove marks an index for deletion, discarding any pending edit.
func (s *Store) StageRemove(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("stage remove: negative index %d", index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removes[index] = true
	delete(s.updates, index)
	return s.persistLocked(ctx)
}

// Changes returns a copy of the pending patch set.
func (s *Store) Changes() Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Changes{Updates: make(map[int]Patch, len(s.updates))}
	for idx, p := range s.updates {
		c.Updates[idx] = p
	}
	c.Removes = sortedIndices(s.removes)
	return c
}

// HasPending reports whether anything is staged.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates) > 0 || len(s.removes) > 0
}

// Apply produces the working item list: removed indices are skipped,
// patches merge into survivors, and new-item patches whose index lies
// beyond the base list append with defaults for any missing field. The
// base slice is not mutated.
func (s *Store) Apply(base []engine.AllotmentItem) []engine.AllotmentItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]engine.AllotmentItem, 0, len(base)+len(s.updates))
	for idx, item := range base {
		if s.removes[idx] {
			continue
		}
		if p, ok := s.updates[idx]; ok {
			item = mergePatch(item, p)
		}
		out = append(out, item)
	}

	for _, idx := range sortedUpdateIndices(s.updates) {
		p := s.updates[idx]
		if !p.IsNew || idx < len(base) || s.removes[idx] {
			continue
		}
		item := engine.AllotmentItem{
			Type:       DefaultNewType,
			Quota:      DefaultNewQuota,
			Cadence:    engine.CadenceMonthly,
			Multiplier: DefaultMultiplier,
		}
		out = append(out, mergePatch(item, p))
	}
	return out
}

// Clear wipes all staged state, including the KV mirror. Called on commit
// and on explicit discard.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = make(map[int]Patch)
	s.removes = make(map[int]bool)
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, s.nsEdits); err != nil {
		return fmt.Errorf("clear staged updates: %w", err)
	}
	if err := s.kv.Delete(ctx, s.nsRems); err != nil {
		return fmt.Errorf("clear staged removes: %w", err)
	}
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	ups, err := json.Marshal(s.updates)
	if err != nil {
		return fmt.Errorf("encode staged updates: %w", err)
	}
	if err := s.kv.Put(ctx, s.nsEdits, ups); err != nil {
		return fmt.Errorf("persist staged updates: %w", err)
	}
	rems, err := json.Marshal(sortedIndices(s.removes))
	if err != nil {
		return fmt.Errorf("encode staged removes: %w", err)
	}
	if err := s.kv.Put(ctx, s.nsRems, rems); err != nil {
		return fmt.Errorf("persist staged removes: %w", err)
	}
	return nil
}

func mergePatch(item engine.AllotmentItem, p Patch) engine.AllotmentItem {
	if p.Type != nil {
		item.Type = *p.Type
	}
	if p.Quota != nil {
		item.Quota = *p.Quota
	}
	if p.Cadence != nil {
		item.Cadence = engine.NormalizeCadence(*p.Cadence)
	}
	if p.Multiplier != nil {
		item.Multiplier = *p.Multiplier
	}
	return item
}

func sortedIndices(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func sortedUpdateIndices(m map[int]Patch) []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
