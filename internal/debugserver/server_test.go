package debugserver

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Xardimods/ainomaly/internal/metrics"
	"github.com/Xardimods/ainomaly/internal/state"
	"github.com/Xardimods/ainomaly/internal/supervisor"
)

func newTestServer(t *testing.T) (*Server, *state.Machine) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	machine := state.NewMachine(logger)
	machine.Start()
	t.Cleanup(machine.Shutdown)
	sup := supervisor.New(supervisor.Config{Interpreter: "python", Script: "x.py"}, logger)
	return New("127.0.0.1:0", machine, sup, metrics.New(), logger), machine
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, 200, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, state.StateInitializing, resp.State)
	assert.Equal(t, "Connecting", resp.Label)
	assert.Equal(t, supervisor.StateNotStarted, resp.Backend)
	assert.Zero(t, resp.BackendPID)
	assert.Nil(t, resp.LastExitCode)
}

func TestHealthzSpawnError(t *testing.T) {
	s, machine := newTestServer(t)

	machine.Send(state.EventStart)
	machine.Send(state.EventSpawnFailed)
	waitForState(t, machine, state.StateSpawnError)

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRetryWithoutHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/retry", nil))

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), "externally managed")
}

func TestRetryAccepted(t *testing.T) {
	s, _ := newTestServer(t)

	called := 0
	s.SetRetryHandler(func() error {
		called++
		return nil
	})

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/retry", nil))

	assert.Equal(t, 202, rec.Code)
	assert.Contains(t, rec.Body.String(), "relaunching")
	assert.Equal(t, 1, called)
}

func TestRetryFailure(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetRetryHandler(func() error {
		return errors.New("interpreter not found")
	})

	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/retry", nil))

	assert.Equal(t, 409, rec.Code)
	assert.Contains(t, rec.Body.String(), "interpreter not found")
}

func waitForState(t *testing.T, m *state.Machine, want state.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Current() != want {
		if time.Now().After(deadline) {
			t.Fatalf("machine never reached %q, at %q", want, m.Current())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
