package oauth

import (
	"context"
	"sync"
)

// Session keys used by the Flow orchestrator within a Store.
const (
	SessionKeyFlowState = "flow_state"
	SessionKeyTokens    = "tokens"
	SessionKeyClaims    = "claims"
	SessionKeyProfile   = "profile"
	SessionKeyError     = "error"
)

// Store is the session persistence the Flow orchestrator operates against.
// Values are opaque bytes: the flow owns their encoding.  Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key within sessionID.  A nil value with a
	// nil error means the key is absent.
	Get(ctx context.Context, sessionID, key string) ([]byte, error)

	// Set writes the value for key within sessionID, replacing anything
	// already there.
	Set(ctx context.Context, sessionID, key string, value []byte) error

	// Delete removes key from sessionID.  Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, sessionID, key string) error
}

// MemStore is an in-memory Store, suitable for tests and single-process
// deployments.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: map[string]map[string][]byte{}}
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.sessions[sessionID][key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Set implements Store.
func (m *MemStore) Set(_ context.Context, sessionID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = map[string][]byte{}
		m.sessions[sessionID] = s
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s[key] = cp
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		delete(s, key)
		if len(s) == 0 {
			delete(m.sessions, sessionID)
		}
	}
	return nil
}
