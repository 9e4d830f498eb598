package ledger

import (
	"cmp"
	"slices"
	"sync"
)

// keyedLocks hands out one mutex per id. Entries are never removed; the
// number of customers and accounts bounds the map.
type keyedLocks[K cmp.Ordered] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func newKeyedLocks[K cmp.Ordered]() *keyedLocks[K] {
	return &keyedLocks[K]{locks: make(map[K]*sync.Mutex)}
}

func (k *keyedLocks[K]) get(id K) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	return m
}

// lock acquires the mutexes for ids in ascending order so two callers
// locking overlapping sets cannot deadlock. Duplicates are locked once.
// The returned func releases everything.
func (k *keyedLocks[K]) lock(ids ...K) func() {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := k.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
