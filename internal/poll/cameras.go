package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Xardimods/ainomaly/internal/backend"
)

// KeyCameras names the camera-roster loop in the registry.
const KeyCameras = "cameras"

// CamerasInterval matches the camera view's refresh cadence.
const CamerasInterval = 5 * time.Second

// CameraStore mirrors the backend's camera roster. The backend owns the
// records; local edits are never trusted past one reconciliation cycle, so
// every mutation helper re-fetches instead of patching the slice.
type CameraStore struct {
	mu      sync.RWMutex
	cameras []backend.Camera
	stale   bool
}

// NewCameraStore creates an empty, stale store.
func NewCameraStore() *CameraStore {
	return &CameraStore{stale: true}
}

// Apply replaces the roster wholesale.
func (s *CameraStore) Apply(cams []backend.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras = cams
	s.stale = false
}

// MarkStale flags the mirror as possibly out of date after a failed poll.
// The last roster stays visible.
func (s *CameraStore) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Snapshot returns a copy of the roster and whether it is stale.
func (s *CameraStore) Snapshot() ([]backend.Camera, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.Camera, len(s.cameras))
	copy(out, s.cameras)
	return out, s.stale
}

// StartCameras runs the roster loop, writing into store.
func (r *Registry) StartCameras(ctx context.Context, client *backend.Client, store *CameraStore) error {
	return r.start(ctx, KeyCameras, CamerasInterval, func(ctx context.Context) error {
		cams, err := client.ListCameras(ctx)
		if err != nil {
			store.MarkStale()
			return err
		}
		store.Apply(cams)
		return nil
	})
}

// CameraActions wraps user-initiated roster mutations. Every mutation that
// succeeds forces a refresh so the store converges on the backend's truth
// rather than on an optimistic local edit.
type CameraActions struct {
	client   *backend.Client
	registry *Registry
}

// NewCameraActions creates the mutation surface for the camera view.
func NewCameraActions(client *backend.Client, registry *Registry) *CameraActions {
	return &CameraActions{client: client, registry: registry}
}

// Add registers a camera and schedules reconciliation.
func (a *CameraActions) Add(ctx context.Context, cam backend.Camera) error {
	if err := a.client.AddCamera(ctx, cam); err != nil {
		return err
	}
	a.registry.Refresh(KeyCameras)
	return nil
}

// Toggle flips a camera's enabled flag and schedules reconciliation.
func (a *CameraActions) Toggle(ctx context.Context, id int) error {
	if err := a.client.ToggleCamera(ctx, id); err != nil {
		return err
	}
	a.registry.Refresh(KeyCameras)
	return nil
}

// Delete removes a camera and schedules reconciliation.
func (a *CameraActions) Delete(ctx context.Context, id int) error {
	if err := a.client.DeleteCamera(ctx, id); err != nil {
		return err
	}
	a.registry.Refresh(KeyCameras)
	return nil
}

// Test probes a camera configuration without saving it.
func (a *CameraActions) Test(ctx context.Context, cam backend.Camera) (backend.TestResult, error) {
	return a.client.TestCamera(ctx, cam)
}
