package server

// ProcessHandle identifies one spawned process. IDs are never reused within
// a host, so a handle from an earlier run never matches a later one.
type ProcessHandle struct {
	ID  uint64 `json:"id"`
	PID int    `json:"pid"`
}

// ProcessSpec describes the process to launch
type ProcessSpec struct {
	Executable string
	Args       []string
	WorkingDir string
	// ConsoleLog receives the process output when set
	ConsoleLog string
}

// ExitEvent is emitted once per process when it terminates
type ExitEvent struct {
	Handle    ProcessHandle
	ExitCode  int
	Requested bool
}

// ProcessHost defines the interface for launching and supervising the server process
type ProcessHost interface {
	// Start launches a process and returns once it is running
	Start(spec ProcessSpec) (ProcessHandle, error)

	// IsRunning checks if the process is still alive
	IsRunning(handle ProcessHandle) bool

	// Stop terminates the process and returns after it has exited
	Stop(handle ProcessHandle) error

	// SetExitHandler registers the callback for exit notifications
	SetExitHandler(fn func(ExitEvent))
}
