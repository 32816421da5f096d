package session

import (
	"sync"

	"github.com/luckbox/quizduel/internal/identity"
)

// Directory maps live connection ids to verified identities. It is the
// authentication gate for the duel engine: no queue or match operation
// is reachable for a connection the directory does not know.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]identity.Identity
}

// NewDirectory creates an empty session directory.
func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[string]identity.Identity),
	}
}

// Register binds a connection to a verified identity, replacing any
// previous binding for that connection.
func (d *Directory) Register(connID string, id identity.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[connID] = id
}

// Lookup returns the identity bound to a connection, if any.
func (d *Directory) Lookup(connID string) (identity.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.sessions[connID]
	return id, ok
}

// Remove drops a connection's binding. Removing an unknown connection
// is a no-op.
func (d *Directory) Remove(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, connID)
}

// Len reports the number of authenticated connections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
