package server

import "time"

// State is the lifecycle state of the supervised session
type State string

const (
	StateIdle              State = "idle"
	StateStarting          State = "starting"
	StateRunning           State = "running"
	StateStopping          State = "stopping"
	StateCrashedRestarting State = "crashed_restarting"
	StateCrashedStopped    State = "crashed_stopped"
)

// Active reports whether a new Start must be rejected in this state
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping, StateCrashedRestarting:
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of the runtime manager
type Status struct {
	State     State      `json:"state"`
	Running   bool       `json:"running"`
	SessionID string     `json:"session_id,omitempty"`
	Build     string     `json:"build,omitempty"`
	Folder    string     `json:"folder,omitempty"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Restarts  int        `json:"restarts"`
}

// EventType names a session transition
type EventType string

const (
	EventStarting    EventType = "starting"
	EventInstalling  EventType = "installing"
	EventRunning     EventType = "running"
	EventStartFailed EventType = "start_failed"
	EventStopping    EventType = "stopping"
	EventStopped     EventType = "stopped"
	EventCrashed     EventType = "crashed"
	EventRestarting  EventType = "restarting"
)

// Event is published on every session transition
type Event struct {
	Type      EventType `json:"type"`
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Build     string    `json:"build,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// EventSink receives session events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// Recorder collects runtime metrics
type Recorder interface {
	SessionStarted()
	StartFailed(reason string)
	Crashed()
	Restarted()
	SetRunning(running bool)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted() {}
func (nopRecorder) StartFailed(string) {}
func (nopRecorder) Crashed() {}
func (nopRecorder) Restarted() {}
func (nopRecorder) SetRunning(bool) {}
