package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Xardimods/ainomaly/internal/backend"
)

// KeyMedia names the media-library loop in the registry.
const KeyMedia = "media"

// MediaInterval is slower than the live views; stored files change only when
// the detector writes or the user deletes.
const MediaInterval = 10 * time.Second

// MediaStore mirrors the backend's stored snapshots and recordings as one
// combined library. The backend owns the files; the only local mutation is
// removal after a confirmed server-side delete.
type MediaStore struct {
	mu    sync.RWMutex
	items []backend.MediaItem
	stale bool
}

// NewMediaStore creates an empty, stale store.
func NewMediaStore() *MediaStore {
	return &MediaStore{stale: true}
}

// Apply replaces the library wholesale.
func (s *MediaStore) Apply(items []backend.MediaItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.stale = false
}

// MarkStale flags the mirror after a failed poll; the last listing stays
// visible.
func (s *MediaStore) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Remove drops one file from the local mirror. Only called after the backend
// confirmed the delete.
func (s *MediaStore) Remove(kind backend.MediaKind, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.Kind == kind && it.Name == name {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the library and whether it is stale.
func (s *MediaStore) Snapshot() ([]backend.MediaItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.MediaItem, len(s.items))
	copy(out, s.items)
	return out, s.stale
}

// StartMedia runs the library loop, writing into store. Snapshots and
// recordings are fetched together; a failure of either leaves the previous
// combined listing in place rather than showing half a library.
func (r *Registry) StartMedia(ctx context.Context, client *backend.Client, store *MediaStore) error {
	return r.start(ctx, KeyMedia, MediaInterval, func(ctx context.Context) error {
		snapshots, err := client.ListSnapshots(ctx)
		if err != nil {
			store.MarkStale()
			return err
		}
		recordings, err := client.ListRecordings(ctx)
		if err != nil {
			store.MarkStale()
			return err
		}
		store.Apply(append(snapshots, recordings...))
		return nil
	})
}

// MediaActions wraps user-initiated media mutations.
type MediaActions struct {
	client   *backend.Client
	registry *Registry
	store    *MediaStore
}

// NewMediaActions creates the mutation surface for the media library view.
func NewMediaActions(client *backend.Client, registry *Registry, store *MediaStore) *MediaActions {
	return &MediaActions{client: client, registry: registry, store: store}
}

// Delete removes one stored file. The local mirror changes only after the
// backend confirms; on failure the item stays and the error goes back to the
// caller for a user-visible notice.
func (a *MediaActions) Delete(ctx context.Context, kind backend.MediaKind, name string) error {
	if err := a.client.DeleteMedia(ctx, kind, name); err != nil {
		return err
	}
	a.store.Remove(kind, name)
	a.registry.Refresh(KeyMedia)
	return nil
}
