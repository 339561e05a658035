// Package pending implements the per-connection registry of in-flight
// operations described by the multiplexer's pending-table component: a
// "live" set of operations not currently awaiting a response, and a
// "pending" set keyed by correlation id. Both sets share one mutex, safe
// against concurrent access from a receive-dispatch path that must not
// block.
package pending

import "sync"

// Op is the surface the table needs from an operation: a place to stamp
// the assigned correlation id. *opmux.Operation satisfies it.
type Op interface {
	SetID(id uint16)
}

// Table tracks every live operation on one connection, split into the
// "operations" set (not awaiting a response) and the "pending" set
// (awaiting a response, keyed by correlation id).
type Table struct {
	mu      sync.Mutex
	nextID  uint16
	live    map[Op]struct{}
	pending map[uint16]Op
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		live:    make(map[Op]struct{}),
		pending: make(map[uint16]Op),
	}
}

// Track adds op to the live set. Called when an operation is created.
func (t *Table) Track(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[op] = struct{}{}
}

// Untrack removes op from the live set entirely (no longer tracked at
// all). Called when an operation is destroyed.
func (t *Table) Untrack(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, op)
}

// InsertPending assigns the next correlation id (skipping 0 on wrap and
// any id already in flight), stamps it on op via SetID, and moves op from
// the live set into the pending set. Returns the assigned id.
func (t *Table) InsertPending(op Op) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.live, op)

	var id uint16
	for {
		t.nextID++
		if t.nextID == 0 {
			continue
		}
		if _, exists := t.pending[t.nextID]; exists {
			continue
		}
		id = t.nextID
		break
	}

	op.SetID(id)
	t.pending[id] = op
	return id
}

// RemovePending moves the operation at id back into the live set, but
// only if it is still the same operation (guards against a late response
// racing a completion that already reused the slot). Reports whether a
// removal happened.
func (t *Table) RemovePending(op Op, id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.pending[id]
	if !ok || cur != op {
		return false
	}
	delete(t.pending, id)
	t.live[op] = struct{}{}
	return true
}

// FindPending looks up the operation awaiting a response with the given
// correlation id, without removing it.
func (t *Table) FindPending(id uint16) (Op, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.pending[id]
	return op, ok
}

// TakePending looks up and removes, atomically, the operation awaiting a
// response with the given id. Used by the response path so a concurrent
// timeout fire cannot also claim the same pending entry.
func (t *Table) TakePending(id uint16) (Op, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return op, ok
}

// PendingCount returns the number of operations currently awaiting a
// response. Intended for tests and diagnostics.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// LiveCount returns the number of operations currently in the live set.
func (t *Table) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
