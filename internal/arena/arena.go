// Package arena holds the per-session state the reader keeps for each chapter
// id: the cached passage, a pending progress override and a retry token.
package arena

import (
	"slices"
	"sync"
)

// Slot is the record kept for one chapter id.
type Slot[P any] struct {
	Passage     P
	HasPassage  bool
	Override    float64
	HasOverride bool
	Retry       uint64
}

// Arena is a thread-safe map of chapter id to Slot that remembers the order
// slots were created in.
type Arena[P any] struct {
	mu    sync.Mutex
	order []int
	slots map[int]*Slot[P]
}

func New[P any]() *Arena[P] {
	return &Arena[P]{slots: make(map[int]*Slot[P])}
}

// slotLocked returns the slot for id, creating it at the end of the order.
func (a *Arena[P]) slotLocked(id int) *Slot[P] {
	s, ok := a.slots[id]
	if !ok {
		s = &Slot[P]{}
		a.slots[id] = s
		a.order = append(a.order, id)
	}
	return s
}

// Passage returns the cached passage for id.
func (a *Arena[P]) Passage(id int) (P, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[id]; ok && s.HasPassage {
		return s.Passage, true
	}
	var zero P
	return zero, false
}

// PassageOrStore returns the existing passage for id, or stores the one built
// by create. The bool is true when create was called.
func (a *Arena[P]) PassageOrStore(id int, create func() P) (P, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.slotLocked(id)
	if s.HasPassage {
		return s.Passage, false
	}
	s.Passage = create()
	s.HasPassage = true
	return s.Passage, true
}

// Passages returns every cached passage in slot order.
func (a *Arena[P]) Passages() []P {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]P, 0, len(a.order))
	for _, id := range a.order {
		if s := a.slots[id]; s.HasPassage {
			out = append(out, s.Passage)
		}
	}
	return out
}

// PassageCount is the number of slots holding a passage.
func (a *Arena[P]) PassageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.slots {
		if s.HasPassage {
			n++
		}
	}
	return n
}

// Override returns the pending progress override for id.
func (a *Arena[P]) Override(id int) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[id]; ok && s.HasOverride {
		return s.Override, true
	}
	return 0, false
}

// SetOverride stores a pending progress override for id.
func (a *Arena[P]) SetOverride(id int, position float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.slotLocked(id)
	s.Override = position
	s.HasOverride = true
}

// ClearOverride drops the pending override for id, if any.
func (a *Arena[P]) ClearOverride(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[id]; ok {
		s.Override = 0
		s.HasOverride = false
	}
}

// BumpRetry increments and returns the retry token for id.
func (a *Arena[P]) BumpRetry(id int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.slotLocked(id)
	s.Retry++
	return s.Retry
}

// RetryToken returns the current retry token for id.
func (a *Arena[P]) RetryToken(id int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[id]; ok {
		return s.Retry
	}
	return 0
}

// Keys returns slot ids in creation order.
func (a *Arena[P]) Keys() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.order)
}

// Len is the number of slots.
func (a *Arena[P]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Prune drops every slot whose id is further than window positions from
// current in order, the chapter ids in display order, but only once more
// than limit passages are held. Ids missing from order are dropped too. The
// current slot is always kept, and nothing is pruned while current is not
// in order. Returns the removed ids.
func (a *Arena[P]) Prune(current int, order []int, window, limit int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	held := 0
	for _, s := range a.slots {
		if s.HasPassage {
			held++
		}
	}
	if held <= limit {
		return nil
	}

	idx := slices.Index(order, current)
	if idx < 0 {
		return nil
	}
	lo, hi := max(idx-window, 0), min(idx+window, len(order)-1)
	near := make(map[int]struct{}, hi-lo+1)
	for _, id := range order[lo : hi+1] {
		near[id] = struct{}{}
	}
	return a.retainLocked(func(_, id int) bool {
		_, ok := near[id]
		return ok || id == current
	})
}

// Retain drops every slot except the one for keep.
func (a *Arena[P]) Retain(keep int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retainLocked(func(_, id int) bool { return id == keep })
}

// Reset drops every slot.
func (a *Arena[P]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = nil
	a.slots = make(map[int]*Slot[P])
}

func (a *Arena[P]) retainLocked(keep func(pos, id int) bool) []int {
	var removed []int
	order := a.order[:0:0]
	for pos, id := range a.order {
		if keep(pos, id) {
			order = append(order, id)
			continue
		}
		delete(a.slots, id)
		removed = append(removed, id)
	}
	a.order = order
	return removed
}
