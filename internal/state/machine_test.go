package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		event Event
		want  State
	}{
		{"start begins launch", StateInitializing, EventStart, StateLaunchingBackend},
		{"skip spawn goes straight to waiting", StateInitializing, EventSkipSpawn, StateWaitingForBackend},
		{"spawned process waits for readiness", StateLaunchingBackend, EventBackendStarted, StateWaitingForBackend},
		{"spawn failure", StateLaunchingBackend, EventSpawnFailed, StateSpawnError},
		{"instant death during launch", StateLaunchingBackend, EventBackendExited, StateSpawnError},
		{"ready probe succeeds", StateWaitingForBackend, EventBackendReady, StateConnected},
		{"ready timeout", StateWaitingForBackend, EventSpawnFailed, StateSpawnError},
		{"death while waiting", StateWaitingForBackend, EventBackendExited, StateSpawnError},
		{"connection drop", StateConnected, EventConnectionLost, StateReconnecting},
		{"process death while connected", StateConnected, EventBackendExited, StateReconnecting},
		{"reconnect recovers", StateReconnecting, EventReconnected, StateConnected},
		{"ready signal also recovers", StateReconnecting, EventBackendReady, StateConnected},
		{"retry relaunches", StateReconnecting, EventRetry, StateLaunchingBackend},
		{"retry from spawn error", StateSpawnError, EventRetry, StateLaunchingBackend},
		{"shutdown wins from anywhere", StateConnected, EventShutdown, StateShuttingDown},
		{"shutdown wins from error", StateSpawnError, EventShutdown, StateShuttingDown},
		{"unlisted pair keeps state", StateConnected, EventStart, StateConnected},
		{"shutdown is terminal", StateShuttingDown, EventReconnected, StateShuttingDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, next(tt.from, tt.event))
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Online", StateConnected.Label())
	assert.Equal(t, "Connecting", StateWaitingForBackend.Label())
	assert.Equal(t, "Connecting", StateReconnecting.Label())
	assert.Equal(t, "Errors", StateSpawnError.Label())
	assert.Equal(t, "Offline", StateShuttingDown.Label())
}

func waitForTransition(t *testing.T, sub <-chan Transition, want State) Transition {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case tr := <-sub:
			if tr.To == want {
				return tr
			}
		case <-timeout:
			t.Fatalf("never reached state %q", want)
			return Transition{}
		}
	}
}

func TestMachineLifecycle(t *testing.T) {
	m := NewMachine(zaptest.NewLogger(t).Sugar())
	sub := m.Subscribe()
	m.Start()

	require.Equal(t, StateInitializing, m.Current())

	m.Send(EventStart)
	waitForTransition(t, sub, StateLaunchingBackend)

	m.Send(EventBackendStarted)
	waitForTransition(t, sub, StateWaitingForBackend)

	m.Send(EventBackendReady)
	tr := waitForTransition(t, sub, StateConnected)
	assert.Equal(t, StateWaitingForBackend, tr.From)
	assert.Equal(t, EventBackendReady, tr.Event)
	assert.False(t, tr.Timestamp.IsZero())

	m.Shutdown()
	assert.Equal(t, StateShuttingDown, m.Current())
}

func TestMachineIgnoresNoopEvents(t *testing.T) {
	m := NewMachine(zaptest.NewLogger(t).Sugar())
	sub := m.Subscribe()
	m.Start()
	defer m.Shutdown()

	// EventReconnected means nothing while initializing.
	m.Send(EventReconnected)
	m.Send(EventStart)

	tr := waitForTransition(t, sub, StateLaunchingBackend)
	assert.Equal(t, StateInitializing, tr.From, "no-op events must not produce transitions")
}

func TestMachineReconnectCycle(t *testing.T) {
	m := NewMachine(zaptest.NewLogger(t).Sugar())
	sub := m.Subscribe()
	m.Start()
	defer m.Shutdown()

	m.Send(EventSkipSpawn)
	m.Send(EventBackendReady)
	waitForTransition(t, sub, StateConnected)

	m.Send(EventConnectionLost)
	waitForTransition(t, sub, StateReconnecting)

	m.Send(EventReconnected)
	waitForTransition(t, sub, StateConnected)
	assert.Equal(t, StateConnected, m.Current())
}

func TestMachineSendAfterShutdownDoesNotBlock(t *testing.T) {
	m := NewMachine(zaptest.NewLogger(t).Sugar())
	m.Start()
	m.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Send(EventConnectionLost)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked after shutdown")
	}
}
