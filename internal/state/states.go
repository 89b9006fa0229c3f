package state

// State is the shell's position in the backend lifecycle.
type State string

const (
	// StateInitializing is the initial startup state.
	StateInitializing State = "initializing"

	// StateLaunchingBackend means the supervisor is spawning the service.
	StateLaunchingBackend State = "launching_backend"

	// StateWaitingForBackend means the process is up but not yet answering.
	StateWaitingForBackend State = "waiting_for_backend"

	// StateConnected means polling and the event stream are live.
	StateConnected State = "connected"

	// StateReconnecting means connectivity was lost and the transport is
	// retrying; the UI shows degraded data meanwhile.
	StateReconnecting State = "reconnecting"

	// StateSpawnError means the backend could not be spawned or died during
	// launch. The shell stays alive; a user can retry.
	StateSpawnError State = "spawn_error"

	// StateShuttingDown is terminal.
	StateShuttingDown State = "shutting_down"
)

// Event triggers state transitions.
type Event string

const (
	// EventStart begins backend launch.
	EventStart Event = "start"

	// EventSkipSpawn connects to an externally managed backend instead of
	// spawning one.
	EventSkipSpawn Event = "skip_spawn"

	// EventBackendStarted means the process spawned successfully.
	EventBackendStarted Event = "backend_started"

	// EventBackendReady means the service answers HTTP.
	EventBackendReady Event = "backend_ready"

	// EventConnectionLost means polling or the event stream lost the service.
	EventConnectionLost Event = "connection_lost"

	// EventReconnected means connectivity came back.
	EventReconnected Event = "reconnected"

	// EventBackendExited means the supervised process died.
	EventBackendExited Event = "backend_exited"

	// EventSpawnFailed means the process could not start or never became
	// ready within the allowed window.
	EventSpawnFailed Event = "spawn_failed"

	// EventRetry re-attempts a launch after a spawn error.
	EventRetry Event = "retry"

	// EventShutdown begins clean shutdown.
	EventShutdown Event = "shutdown"
)

// Label is the user-facing word for a state, used for status badges.
func (s State) Label() string {
	switch s {
	case StateConnected:
		return "Online"
	case StateReconnecting, StateWaitingForBackend, StateLaunchingBackend, StateInitializing:
		return "Connecting"
	case StateSpawnError:
		return "Errors"
	default:
		return "Offline"
	}
}
