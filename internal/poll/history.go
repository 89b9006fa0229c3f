package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Xardimods/ainomaly/internal/backend"
)

// KeyHistory names the alert-history loop in the registry.
const KeyHistory = "history"

// HistoryInterval matches the alert view's refresh cadence.
const HistoryInterval = 5 * time.Second

// HistoryStore mirrors the server-side alert history. Entries are immutable
// once created; the only local mutation is removal after a confirmed
// server-side delete.
type HistoryStore struct {
	mu      sync.RWMutex
	entries []backend.HistoryEntry
	stale   bool
}

// NewHistoryStore creates an empty, stale store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{stale: true}
}

// Apply replaces the history wholesale.
func (s *HistoryStore) Apply(entries []backend.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.stale = false
}

// MarkStale flags the mirror after a failed poll; entries stay visible.
func (s *HistoryStore) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Remove drops the entry with id from the local mirror. Only called after the
// backend confirmed the delete.
func (s *HistoryStore) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID != nil && *e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the history and whether it is stale.
func (s *HistoryStore) Snapshot() ([]backend.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out, s.stale
}

// StartHistory runs the history loop, writing into store.
func (r *Registry) StartHistory(ctx context.Context, client *backend.Client, store *HistoryStore) error {
	return r.start(ctx, KeyHistory, HistoryInterval, func(ctx context.Context) error {
		entries, err := client.GetHistory(ctx)
		if err != nil {
			store.MarkStale()
			return err
		}
		store.Apply(entries)
		return nil
	})
}

// HistoryActions wraps user-initiated history mutations.
type HistoryActions struct {
	client   *backend.Client
	registry *Registry
	store    *HistoryStore
}

// NewHistoryActions creates the mutation surface for the alert-history view.
func NewHistoryActions(client *backend.Client, registry *Registry, store *HistoryStore) *HistoryActions {
	return &HistoryActions{client: client, registry: registry, store: store}
}

// Delete removes one history entry. The local mirror changes only after the
// backend confirms; on failure the entry stays and the error goes back to the
// caller for a user-visible notice.
func (a *HistoryActions) Delete(ctx context.Context, id int) error {
	if err := a.client.DeleteHistoryEntry(ctx, id); err != nil {
		return err
	}
	a.store.Remove(id)
	a.registry.Refresh(KeyHistory)
	return nil
}
