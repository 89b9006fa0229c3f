// Package state tracks the shell's backend lifecycle as an event-driven
// state machine. Components report what happened (process started, connection
// lost); the machine decides what the shell's overall condition is and fans
// transitions out to subscribers.
package state

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transition records one state change.
type Transition struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
}

// Machine serializes lifecycle transitions. All events funnel through one
// goroutine so transitions are totally ordered.
type Machine struct {
	mu      sync.RWMutex
	current State
	logger  *zap.SugaredLogger

	eventCh    chan Event
	shutdownCh chan struct{}

	subscribersMu sync.RWMutex
	subscribers   []chan Transition

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMachine creates a machine in StateInitializing.
func NewMachine(logger *zap.SugaredLogger) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		current:    StateInitializing,
		logger:     logger,
		eventCh:    make(chan Event, 16),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the machine loop. The caller sends the initial event.
func (m *Machine) Start() {
	go m.run()
}

// Send delivers an event without blocking the caller.
func (m *Machine) Send(event Event) {
	select {
	case m.eventCh <- event:
	case <-m.ctx.Done():
	default:
		m.logger.Warnw("Event channel full, dropping event", "event", event)
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel receiving every transition. Slow subscribers
// lose transitions rather than stalling the machine.
func (m *Machine) Subscribe() <-chan Transition {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	ch := make(chan Transition, 16)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Shutdown drives the machine to its terminal state and stops the loop.
func (m *Machine) Shutdown() {
	m.Send(EventShutdown)
	select {
	case <-m.shutdownCh:
	case <-time.After(5 * time.Second):
		m.logger.Warn("State machine shutdown timed out")
	}
	m.cancel()
}

func (m *Machine) run() {
	defer close(m.shutdownCh)
	for {
		select {
		case event := <-m.eventCh:
			m.handle(event)
		case <-m.ctx.Done():
			return
		}
		if m.Current() == StateShuttingDown {
			return
		}
	}
}

func (m *Machine) handle(event Event) {
	m.mu.Lock()
	from := m.current
	to := next(from, event)
	if to == from {
		m.mu.Unlock()
		return
	}
	m.current = to
	m.mu.Unlock()

	m.logger.Infow("State transition", "from", from, "to", to, "event", event)
	m.notify(Transition{From: from, To: to, Event: event, Timestamp: time.Now()})
}

// next is the transition table. Unlisted pairs keep the current state.
func next(from State, event Event) State {
	if event == EventShutdown {
		return StateShuttingDown
	}

	switch from {
	case StateInitializing:
		switch event {
		case EventStart:
			return StateLaunchingBackend
		case EventSkipSpawn:
			return StateWaitingForBackend
		}

	case StateLaunchingBackend:
		switch event {
		case EventBackendStarted:
			return StateWaitingForBackend
		case EventSpawnFailed, EventBackendExited:
			return StateSpawnError
		}

	case StateWaitingForBackend:
		switch event {
		case EventBackendReady:
			return StateConnected
		case EventBackendExited, EventSpawnFailed:
			return StateSpawnError
		}

	case StateConnected:
		switch event {
		case EventConnectionLost, EventBackendExited:
			return StateReconnecting
		}

	case StateReconnecting:
		switch event {
		case EventReconnected, EventBackendReady:
			return StateConnected
		case EventRetry:
			return StateLaunchingBackend
		}

	case StateSpawnError:
		if event == EventRetry {
			return StateLaunchingBackend
		}

	case StateShuttingDown:
		return StateShuttingDown
	}

	return from
}

func (m *Machine) notify(t Transition) {
	m.subscribersMu.RLock()
	defer m.subscribersMu.RUnlock()
	for _, sub := range m.subscribers {
		select {
		case sub <- t:
		default:
		}
	}
}
