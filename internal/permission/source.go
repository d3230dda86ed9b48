package permission

import (
	"log/slog"
	"sync"
)

// Fixed is a Source that never changes.
type Fixed Snapshot

// Snapshot implements Source.
func (f Fixed) Snapshot() Snapshot { return Snapshot(f) }

// Store is a mutable Source. Grants and revocations take effect on the
// next Snapshot call. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates a Store seeded with snap.
func NewStore(snap Snapshot) *Store {
	return &Store{snap: snap}
}

// Snapshot implements Source.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Grant adds p to the granted set.
func (s *Store) Grant(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Granted = s.snap.Granted.With(p)
}

// Revoke removes p from the granted set.
func (s *Store) Revoke(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Granted.Has(p) {
		slog.Info("[GATE] permission revoked", "permission", p)
	}
	s.snap.Granted = s.snap.Granted.Without(p)
}

// SetRevision changes the host revision.
func (s *Store) SetRevision(rev int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Revision = rev
}

// Compile-time checks.
var (
	_ Source = Fixed{}
	_ Source = (*Store)(nil)
)
