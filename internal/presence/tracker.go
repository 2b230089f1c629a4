// Package presence tracks which connection currently speaks for each identity.
package presence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gregriff/duet/internal/schemas"
)

// Conn is a live client connection.
type Conn interface {
	// Handle is unique per connection and never reused
	Handle() uuid.UUID

	// Send queues evt for delivery without blocking. It reports false if the connection is gone.
	Send(evt schemas.Outbound) bool

	Close()
}

// Outcome is the result of registering a connection
type Outcome int

const (
	// Registered means the identity was offline before this registration
	Registered Outcome = iota
	// ReplacedPrevious means another connection was registered for the identity and has been superseded
	ReplacedPrevious
)

// Tracker maps each identity to at most one live connection.
type Tracker struct {
	mu    sync.Mutex
	conns map[schemas.Identity]Conn
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[schemas.Identity]Conn, 2)}
}

// Register makes conn the live connection of id. When another connection was registered, it is
// returned so the caller can close it. The last registration wins.
func (t *Tracker) Register(id schemas.Identity, conn Conn) (Outcome, Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, exists := t.conns[id]
	t.conns[id] = conn
	if !exists || previous.Handle() == conn.Handle() {
		return Registered, nil
	}
	return ReplacedPrevious, previous
}

// Unregister clears the registration of id only if conn is the registered connection, so a late
// disconnect from a superseded connection cannot clear a newer one.
func (t *Tracker) Unregister(id schemas.Identity, conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.conns[id]
	if !exists || current.Handle() != conn.Handle() {
		return false
	}
	delete(t.conns, id)
	return true
}

// Lookup returns the live connection of id
func (t *Tracker) Lookup(id schemas.Identity) (Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[id]
	return conn, ok
}

func (t *Tracker) Online(id schemas.Identity) bool {
	_, ok := t.Lookup(id)
	return ok
}

// Current reports whether conn is the live connection of id
func (t *Tracker) Current(id schemas.Identity, conn Conn) bool {
	current, ok := t.Lookup(id)
	return ok && current.Handle() == conn.Handle()
}

// Count returns the number of identities online
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
