package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Xardimods/ainomaly/internal/backend"
)

// KeyStatus names the system-status loop in the registry.
const KeyStatus = "status"

// StatusInterval matches the dashboard's refresh cadence.
const StatusInterval = 2 * time.Second

const offlineLabel = "Offline"

// StatusStore holds the last system snapshot. On a successful poll the whole
// snapshot is replaced. On a failed poll only Connected and CameraStatus are
// rewritten: the numeric fields deliberately keep their last known values, so
// the dashboard shows stale-but-labeled data instead of zeros.
type StatusStore struct {
	mu       sync.RWMutex
	snapshot backend.Status
	lastOK   time.Time
}

// NewStatusStore starts in the degraded state until the first poll lands.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		snapshot: backend.Status{Connected: false, CameraStatus: offlineLabel},
	}
}

// Apply replaces the snapshot wholesale.
func (s *StatusStore) Apply(st backend.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = st
	s.lastOK = time.Now()
}

// MarkOffline applies the degraded policy for a failed poll.
func (s *StatusStore) MarkOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Connected = false
	s.snapshot.CameraStatus = offlineLabel
}

// Snapshot returns the current (possibly degraded) status.
func (s *StatusStore) Snapshot() backend.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// LastSuccess returns when the snapshot was last replaced by live data.
func (s *StatusStore) LastSuccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOK
}

// StartStatus runs the status loop, writing into store. The degraded branch is
// applied inside the tick so a snapshot is never half-updated between cycles.
func (r *Registry) StartStatus(ctx context.Context, client *backend.Client, store *StatusStore) error {
	return r.start(ctx, KeyStatus, StatusInterval, func(ctx context.Context) error {
		st, err := client.GetStatus(ctx)
		if err != nil {
			store.MarkOffline()
			return err
		}
		store.Apply(st)
		return nil
	})
}
