package payments

import "sync"

// keyedLocks serializes work per key. Entries are reference-counted and
// removed when the last holder releases, so the map does not grow with the
// number of keys ever seen.
//
// Two keyspaces share this map without contending with each other:
// submission locks on the idempotency key (the payment ID does not exist
// yet), while hold resolution and refunds lock on the payment ID. A
// submission can therefore overlap a resolve/refund of the payment it
// replays; cross-keyspace safety comes from the ledger's compare-and-set
// transitions (AppendTransition rejects a stale from-state), the lock only
// collapses same-key duplicates onto one execution.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// lock acquires the lock for key and returns the release function.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
