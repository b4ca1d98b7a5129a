package login

import (
	"sync"

	"github.com/google/uuid"
)

// OnlineRegistry tracks which player UUIDs currently have a live connection,
// generalized from the teacher's SessionManager (internal/login/session_manager.go)
// to the §4.D.1/§4.D.5 duplicate-login check and §4.F's player-list
// departure notification.
type OnlineRegistry struct {
	mu     sync.Mutex
	online map[uuid.UUID]struct{}
}

// NewOnlineRegistry constructs an empty registry.
func NewOnlineRegistry() *OnlineRegistry {
	return &OnlineRegistry{online: make(map[uuid.UUID]struct{})}
}

// TryRegister atomically claims id for this connection. Exactly one
// concurrent caller for the same id succeeds (property #9); the rest must
// disconnect with a "duplicate login" reason.
func (r *OnlineRegistry) TryRegister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.online[id]; exists {
		return false
	}
	r.online[id] = struct{}{}
	return true
}

// Unregister releases id, called on connection close / PlayerLeft.
func (r *OnlineRegistry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online, id)
}

// IsOnline reports whether id currently holds a claim.
func (r *OnlineRegistry) IsOnline(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.online[id]
	return exists
}
