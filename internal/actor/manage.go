package actor

import (
	"log/slog"
	"sync"
)

// Children is the K-keyed child registry a TaskManage owns. Safe for
// concurrent use: the owning actor mutates it from its own loop goroutine,
// but handlers are free to range over a snapshot from any goroutine (e.g. a
// periodic sweeper) via Snapshot.
type Children[K comparable] struct {
	mu   sync.RWMutex
	rows map[K]Mailbox
}

// NewChildren allocates an empty child registry.
func NewChildren[K comparable]() *Children[K] {
	return &Children[K]{rows: make(map[K]Mailbox)}
}

// Put registers or replaces the child at key.
func (c *Children[K]) Put(key K, m Mailbox) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[key] = m
}

// Get returns the child at key, if any.
func (c *Children[K]) Get(key K) (Mailbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.rows[key]
	return m, ok
}

// Remove deletes the child at key.
func (c *Children[K]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, key)
}

// Len reports the number of registered children.
func (c *Children[K]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Snapshot returns a copy of the current key->mailbox map, safe to range
// over without holding any lock.
func (c *Children[K]) Snapshot() map[K]Mailbox {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[K]Mailbox, len(c.rows))
	for k, v := range c.rows {
		out[k] = v
	}
	return out
}

// ManageHandler is implemented by actors that own a child registry (the
// world hierarchy, the accept manager). It receives the child map alongside
// each envelope so it can route or broadcast.
type ManageHandler[K comparable] interface {
	HandleEnvelope(self Mailbox, children *Children[K], msg any) (terminate bool, err error)
}

// TaskManage is an actor with a K-keyed child registry.
type TaskManage[K comparable] struct {
	Self     Mailbox
	Parent   Mailbox
	Children *Children[K]
	recv     <-chan any
	done     chan struct{}
	handler  ManageHandler[K]
	log      *slog.Logger
}

// NewTaskManage constructs a TaskManage and returns it along with the
// mailbox other actors should hold to address it.
func NewTaskManage[K comparable](parent Mailbox, handler ManageHandler[K], log *slog.Logger) (*TaskManage[K], Mailbox) {
	if log == nil {
		log = slog.Default()
	}
	self, recv, done := newMailboxPair()
	return &TaskManage[K]{
		Self:     self,
		Parent:   parent,
		Children: NewChildren[K](),
		recv:     recv,
		done:     done,
		handler:  handler,
		log:      log,
	}, self
}

// Run spawns the actor loop in its own goroutine and returns immediately.
func (t *TaskManage[K]) Run() {
	go t.loop()
}

func (t *TaskManage[K]) loop() {
	defer close(t.done)
	for msg := range t.recv {
		terminate, err := t.handler.HandleEnvelope(t.Self, t.Children, msg)
		if err != nil {
			t.log.Debug("manage actor handler error, closing", "err", err)
			_, _ = t.handler.HandleEnvelope(t.Self, t.Children, Close{Reason: err})
			return
		}
		if terminate {
			return
		}
	}
}
