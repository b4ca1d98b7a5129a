// Package sharedstate implements the Shared State Cell (§4.J): a
// multi-reader/writer coordinated value, generalized from the actor
// mailbox pattern into a manager-plus-mirrors broadcast primitive used by
// subsystems needing a value replicated to a set of per-task mirrors.
package sharedstate

import (
	"sync"
)

// manager holds the authoritative value plus the registry of mirror
// broadcast channels.
type manager[T any] struct {
	mu      sync.Mutex
	value   T
	mirrors map[uint64]chan T
	nextID  uint64
}

// New constructs a Shared State Cell seeded with an initial value and
// returns the first mirror handle.
func New[T any](initial T) *Mirror[T] {
	mgr := &manager[T]{value: initial, mirrors: make(map[uint64]chan T)}
	return mgr.cloneTask()
}

// Mirror is a task-local copy of the cell's value plus the mailbox it
// receives broadcasts on.
type Mirror[T any] struct {
	id    uint64
	mgr   *manager[T]
	local T
	recv  chan T
}

func (m *manager[T]) cloneTask() *Mirror[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan T, 8)
	m.mirrors[id] = ch
	return &Mirror[T]{id: id, mgr: m, local: m.value, recv: ch}
}

// Clone allocates a new mirror sharing this cell's manager, snapshotting
// the manager's current authoritative value.
func (m *Mirror[T]) Clone() *Mirror[T] {
	return m.mgr.cloneTask()
}

// Get returns the mirror's local copy.
func (m *Mirror[T]) Get() T { return m.local }

// Commit publishes the mirror's local copy to the manager, which replaces
// the authoritative value and broadcasts it to every mirror including the
// committer — no mirror is special-cased, so all mirrors converge.
func (m *Mirror[T]) Commit(value T) {
	m.local = value
	m.mgr.mu.Lock()
	m.mgr.value = value
	targets := make([]chan T, 0, len(m.mgr.mirrors))
	for _, ch := range m.mgr.mirrors {
		targets = append(targets, ch)
	}
	m.mgr.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- value:
		default:
			// Mirror hasn't drained; drop the oldest pending broadcast to
			// make room rather than block the committer.
			select {
			case <-ch:
			default:
			}
			ch <- value
		}
	}
}

// Check drains any pending broadcast into the local copy without blocking;
// returns true if the local copy changed.
func (m *Mirror[T]) Check() bool {
	select {
	case v := <-m.recv:
		m.local = v
		return true
	default:
		return false
	}
}

// Wait blocks until a broadcast arrives and folds it into the local copy.
func (m *Mirror[T]) Wait() {
	v := <-m.recv
	m.local = v
}

// Drop deregisters this mirror from the manager.
func (m *Mirror[T]) Drop() {
	m.mgr.mu.Lock()
	delete(m.mgr.mirrors, m.id)
	m.mgr.mu.Unlock()
}
