package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Xardimods/ainomaly/internal/backend"
)

func TestStatusStore_StartsDegraded(t *testing.T) {
	s := NewStatusStore()
	st := s.Snapshot()
	assert.False(t, st.Connected)
	assert.Equal(t, "Offline", st.CameraStatus)
	assert.True(t, s.LastSuccess().IsZero())
}

func TestStatusStore_DegradedKeepsNumericFields(t *testing.T) {
	s := NewStatusStore()
	s.Apply(backend.Status{
		Connected:    true,
		CameraStatus: "2 active",
		System:       backend.System{CPU: 40.0, RAM: 62.5},
		Storage:      backend.Storage{Percent: 70.0, FreeGB: 100.0},
	})

	s.MarkOffline()
	st := s.Snapshot()

	assert.False(t, st.Connected)
	assert.Equal(t, "Offline", st.CameraStatus)
	assert.InDelta(t, 40.0, st.System.CPU, 0.001, "numeric fields keep last known values")
	assert.InDelta(t, 100.0, st.Storage.FreeGB, 0.001)
}

func TestStatusStore_ApplyReplacesWholesale(t *testing.T) {
	s := NewStatusStore()
	s.Apply(backend.Status{Connected: true, CameraStatus: "2 active", System: backend.System{CPU: 90}})
	s.Apply(backend.Status{Connected: true, CameraStatus: "1 active"})

	st := s.Snapshot()
	assert.InDelta(t, 0.0, st.System.CPU, 0.001, "missed fields must not survive a replacement")
	assert.False(t, s.LastSuccess().IsZero())
}

func TestCameraStore_SnapshotIsACopy(t *testing.T) {
	s := NewCameraStore()
	s.Apply([]backend.Camera{{ID: 1, Name: "Lobby"}})

	snap, stale := s.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, stale)

	snap[0].Name = "tampered"
	again, _ := s.Snapshot()
	assert.Equal(t, "Lobby", again[0].Name)
}

func TestCameraStore_StaleKeepsRoster(t *testing.T) {
	s := NewCameraStore()

	_, stale := s.Snapshot()
	assert.True(t, stale, "empty store starts stale")

	s.Apply([]backend.Camera{{ID: 1, Name: "Lobby"}})
	s.MarkStale()

	snap, stale := s.Snapshot()
	assert.True(t, stale)
	require.Len(t, snap, 1, "last roster stays visible while stale")
}

func TestHistoryStore_RemoveMatchesByID(t *testing.T) {
	id1, id2 := 1, 2
	s := NewHistoryStore()
	s.Apply([]backend.HistoryEntry{
		{ID: &id1, Camera: "Lobby"},
		{ID: nil, Camera: "Legacy"},
		{ID: &id2, Camera: "Yard"},
	})

	s.Remove(1)
	snap, _ := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Legacy", snap[0].Camera)

	// Removing an id that only exists as null must not drop anything.
	s.Remove(99)
	snap, _ = s.Snapshot()
	assert.Len(t, snap, 2)
}

type fakeBackend struct {
	statusFails    atomic.Bool
	cameraGets     atomic.Int64
	historyGets    atomic.Int64
	mediaGets      atomic.Int64
	recordingFails atomic.Bool
	deleteFails    atomic.Bool
	deletes        atomic.Int64
}

func newBackendServer(t *testing.T, fb *fakeBackend) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			if fb.statusFails.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"connected":true,"camera_status":"2 active","system":{"cpu":10,"ram":20},"storage":{"percent":30,"free_gb":40}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/cameras":
			fb.cameraGets.Add(1)
			_, _ = w.Write([]byte(`[{"id":1,"name":"Lobby","enabled":true,"type":"webcam","source":0}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/cameras/1/toggle":
		case r.Method == http.MethodGet && r.URL.Path == "/alerts/history":
			fb.historyGets.Add(1)
			_, _ = w.Write([]byte(`[{"id":7,"date":"2025-01-01","camera":"Lobby","event":"fall","status":"sent"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/alerts/history/7":
			fb.deletes.Add(1)
			if fb.deleteFails.Load() {
				w.WriteHeader(http.StatusInternalServerError)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/snapshots":
			fb.mediaGets.Add(1)
			_, _ = w.Write([]byte(`[{"name":"fall_001.jpg","date":"2025-01-01","url":"/snapshots/fall_001.jpg"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/recordings":
			if fb.recordingFails.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`[{"name":"recording_001.mp4","date":"2025-01-02"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/snapshots/fall_001.jpg":
			fb.deletes.Add(1)
			if fb.deleteFails.Load() {
				w.WriteHeader(http.StatusInternalServerError)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, zaptest.NewLogger(t).Sugar())
}

func TestStartStatus_AppliesAndDegrades(t *testing.T) {
	fb := &fakeBackend{}
	client := newBackendServer(t, fb)
	r := newTestRegistry(t)
	store := NewStatusStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.StartStatus(ctx, client, store))
	defer r.Stop(KeyStatus)

	waitFor(t, func() bool { return store.Snapshot().Connected })
	assert.Equal(t, "2 active", store.Snapshot().CameraStatus)

	fb.statusFails.Store(true)
	r.Refresh(KeyStatus)

	waitFor(t, func() bool { return !store.Snapshot().Connected })
	st := store.Snapshot()
	assert.Equal(t, "Offline", st.CameraStatus)
	assert.InDelta(t, 10.0, st.System.CPU, 0.001)
}

func TestCameraActions_MutationTriggersRefresh(t *testing.T) {
	fb := &fakeBackend{}
	client := newBackendServer(t, fb)
	r := newTestRegistry(t)
	store := NewCameraStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.StartCameras(ctx, client, store))
	defer r.Stop(KeyCameras)

	waitFor(t, func() bool { return fb.cameraGets.Load() >= 1 })
	before := fb.cameraGets.Load()

	actions := NewCameraActions(client, r)
	require.NoError(t, actions.Toggle(ctx, 1))

	waitFor(t, func() bool { return fb.cameraGets.Load() > before })
}

func TestHistoryActions_DeleteOnlyAfterServerConfirms(t *testing.T) {
	fb := &fakeBackend{}
	client := newBackendServer(t, fb)
	r := newTestRegistry(t)
	store := NewHistoryStore()

	id := 7
	store.Apply([]backend.HistoryEntry{{ID: &id, Camera: "Lobby"}})
	actions := NewHistoryActions(client, r, store)

	ctx := context.Background()

	fb.deleteFails.Store(true)
	require.Error(t, actions.Delete(ctx, 7))
	snap, _ := store.Snapshot()
	assert.Len(t, snap, 1, "failed delete must leave the entry in place")

	fb.deleteFails.Store(false)
	require.NoError(t, actions.Delete(ctx, 7))
	snap, _ = store.Snapshot()
	assert.Empty(t, snap)
}

func TestMediaStore_StaleKeepsListing(t *testing.T) {
	s := NewMediaStore()

	_, stale := s.Snapshot()
	assert.True(t, stale, "empty store starts stale")

	s.Apply([]backend.MediaItem{{Kind: backend.MediaSnapshot, Name: "fall_001.jpg"}})
	s.MarkStale()

	snap, stale := s.Snapshot()
	assert.True(t, stale)
	require.Len(t, snap, 1, "last listing stays visible while stale")
}

func TestMediaStore_RemoveMatchesKindAndName(t *testing.T) {
	s := NewMediaStore()
	s.Apply([]backend.MediaItem{
		{Kind: backend.MediaSnapshot, Name: "a.jpg"},
		{Kind: backend.MediaRecording, Name: "a.jpg"},
	})

	s.Remove(backend.MediaSnapshot, "a.jpg")
	snap, _ := s.Snapshot()
	require.Len(t, snap, 1, "the same name under another kind must survive")
	assert.Equal(t, backend.MediaRecording, snap[0].Kind)
}

func TestStartMedia_CombinesAndDegrades(t *testing.T) {
	fb := &fakeBackend{}
	client := newBackendServer(t, fb)
	r := newTestRegistry(t)
	store := NewMediaStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.StartMedia(ctx, client, store))
	defer r.Stop(KeyMedia)

	waitFor(t, func() bool {
		snap, stale := store.Snapshot()
		return !stale && len(snap) == 2
	})
	snap, _ := store.Snapshot()
	assert.Equal(t, backend.MediaSnapshot, snap[0].Kind)
	assert.Equal(t, backend.MediaRecording, snap[1].Kind)

	fb.recordingFails.Store(true)
	r.Refresh(KeyMedia)

	waitFor(t, func() bool {
		_, stale := store.Snapshot()
		return stale
	})
	snap, _ = store.Snapshot()
	assert.Len(t, snap, 2, "a half-failed fetch must not shrink the library")
}

func TestMediaActions_DeleteOnlyAfterServerConfirms(t *testing.T) {
	fb := &fakeBackend{}
	client := newBackendServer(t, fb)
	r := newTestRegistry(t)
	store := NewMediaStore()

	store.Apply([]backend.MediaItem{{Kind: backend.MediaSnapshot, Name: "fall_001.jpg"}})
	actions := NewMediaActions(client, r, store)

	ctx := context.Background()

	fb.deleteFails.Store(true)
	require.Error(t, actions.Delete(ctx, backend.MediaSnapshot, "fall_001.jpg"))
	snap, _ := store.Snapshot()
	assert.Len(t, snap, 1, "failed delete must leave the file listed")

	fb.deleteFails.Store(false)
	require.NoError(t, actions.Delete(ctx, backend.MediaSnapshot, "fall_001.jpg"))
	snap, _ = store.Snapshot()
	assert.Empty(t, snap)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
