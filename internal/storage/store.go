package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotConfigured indicates the backing store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
	// ErrNotFound indicates no blob exists under the key.
	ErrNotFound = errors.New("storage: blob not found")
)

// DefaultStateKey is the fixed key the engine state lives under.
const DefaultStateKey = "keen_oracle_state"

// BlobStore is a minimal key-value store for opaque blobs.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers for backends that have them.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get returns a copy of the blob under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Put stores a copy of value under key.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	blob := make([]byte, len(value))
	copy(blob, value)

	m.mu.Lock()
	m.blobs[key] = blob
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// StateRepository loads and saves the engine State under a fixed key.
type StateRepository struct {
	store BlobStore
	key   string
}

// NewStateRepository binds a blob store to a state key.
func NewStateRepository(store BlobStore, key string) *StateRepository {
	if key == "" {
		key = DefaultStateKey
	}
	return &StateRepository{store: store, key: key}
}

// Key returns the storage key in use.
func (r *StateRepository) Key() string {
	return r.key
}

// Load reads the state. A missing blob yields an empty state.
func (r *StateRepository) Load(ctx context.Context) (*State, error) {
	if r == nil || r.store == nil {
		return nil, ErrNotConfigured
	}
	payload, err := r.store.Get(ctx, r.key)
	if errors.Is(err, ErrNotFound) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %q: %w", r.key, err)
	}
	return DecodeState(payload)
}

// Save writes the state, stamping SavedAt.
func (r *StateRepository) Save(ctx context.Context, state *State) error {
	if r == nil || r.store == nil {
		return ErrNotConfigured
	}
	state.Version = StateVersion
	state.SavedAt = time.Now().UTC()
	payload, err := EncodeState(state)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, r.key, payload); err != nil {
		return fmt.Errorf("save state %q: %w", r.key, err)
	}
	return nil
}

// Locker returns the store's advisory locker, if it has one.
func (r *StateRepository) Locker() AdvisoryLocker {
	if r == nil {
		return nil
	}
	if l, ok := r.store.(AdvisoryLocker); ok {
		return l
	}
	return nil
}

// Close releases the underlying store.
func (r *StateRepository) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}
