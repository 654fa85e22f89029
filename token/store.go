package token

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Keyring persists the credential pair and active tenant across process
// restarts. Implementations live in token/keyring. A nil keyring is valid;
// the store then keeps everything in memory only. Save with a nil pair
// records "no credentials" while keeping the tenant mirror.
type Keyring interface {
	Load() (*Pair, string, error)
	Save(pair *Pair, tenantID string) error
}

// snapshot is the whole record readers observe. It is immutable once
// published; every mutation swaps in a fresh snapshot so a reader can never
// see an access token from one pair alongside a refresh token from another.
type snapshot struct {
	pair     *Pair
	tenantID string
	epoch    uint64
}

// Store is the single shared home of the credential pair and the active
// tenant ID. Reads are lock-free; writes serialize behind a mutex and bump
// an epoch used by the refresh coordinator to detect a logout that raced an
// in-flight exchange.
type Store struct {
	mu      sync.Mutex // guards writers
	current atomic.Pointer[snapshot]
	keyring Keyring
}

// NewStore creates a credential store backed by the optional keyring.
func NewStore(keyring Keyring) *Store {
	s := &Store{keyring: keyring}
	s.current.Store(&snapshot{})
	return s
}

// Hydrate loads the persisted pair and tenant from the keyring, if any.
// Called once at startup, before any request traffic.
func (s *Store) Hydrate() error {
	if s.keyring == nil {
		return nil
	}
	pair, tenantID, err := s.keyring.Load()
	if err != nil {
		return errors.Wrap(err, "[Store.Hydrate] keyring.Load")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !pair.Valid() {
		pair = nil
	}
	prev := s.current.Load()
	s.current.Store(&snapshot{pair: pair, tenantID: tenantID, epoch: prev.epoch})
	return nil
}

// Get returns the current pair, or nil when no credentials are held.
func (s *Store) Get() *Pair {
	return s.current.Load().pair
}

// Set replaces the stored pair as a whole.
func (s *Store) Set(pair *Pair) error {
	if !pair.Valid() {
		return errors.New("[Store.Set] refusing to store a partial credential pair")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	s.current.Store(&snapshot{pair: pair, tenantID: prev.tenantID, epoch: prev.epoch})
	return s.persist(pair, prev.tenantID)
}

// SetIfEpoch replaces the pair only when no Clear has happened since the
// caller observed the given epoch. Used by the refresh coordinator so a
// refresh that settles after logout cannot resurrect the session.
func (s *Store) SetIfEpoch(pair *Pair, epoch uint64) bool {
	if !pair.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	if prev.epoch != epoch {
		return false
	}
	s.current.Store(&snapshot{pair: pair, tenantID: prev.tenantID, epoch: prev.epoch})
	_ = s.persist(pair, prev.tenantID)
	return true
}

// Clear drops the pair and bumps the epoch. The active tenant survives a
// clear so the next login lands in the same tenant.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	s.current.Store(&snapshot{tenantID: prev.tenantID, epoch: prev.epoch + 1})
	_ = s.persist(nil, prev.tenantID)
}

// Epoch returns the current clear-generation counter.
func (s *Store) Epoch() uint64 {
	return s.current.Load().epoch
}

// TenantID returns the active tenant ID, or empty when none is active.
func (s *Store) TenantID() string {
	return s.current.Load().tenantID
}

// SetTenant records the active tenant. Purely local; the server re-validates
// membership from the tenant header on every request.
func (s *Store) SetTenant(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current.Load()
	s.current.Store(&snapshot{pair: prev.pair, tenantID: tenantID, epoch: prev.epoch})
	return s.persist(prev.pair, tenantID)
}

func (s *Store) persist(pair *Pair, tenantID string) error {
	if s.keyring == nil {
		return nil
	}
	if err := s.keyring.Save(pair, tenantID); err != nil {
		return errors.Wrap(err, "[Store.persist] keyring.Save")
	}
	return nil
}
