package app

import (
	"sync"

	"chat_relay_service/internal/relay/domain"
)

// Connection 一個 client 的雙向通道; Send 不可阻塞
type Connection interface {
	ID() string
	Send(resp domain.WSResponse) error
	Close() error
}

// Registry identity -> live connection on this node, last register wins
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewRegistry create empty Registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// Register map identity to conn, returns the connection it replaced (nil when none or the same conn)
func (r *Registry) Register(identity string, conn Connection) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[identity]
	r.conns[identity] = conn
	if !ok || prev == conn {
		return nil
	}
	return prev
}

// Lookup live connection of identity
func (r *Registry) Lookup(identity string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[identity]
	return conn, ok
}

// RemoveByConnection drop every identity mapped to conn, returns the removed identities
func (r *Registry) RemoveByConnection(conn Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, c := range r.conns {
		if c == conn {
			delete(r.conns, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// IdentitiesOf identities currently mapped to conn
func (r *Registry) IdentitiesOf(conn Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, c := range r.conns {
		if c == conn {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len number of registered identities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
