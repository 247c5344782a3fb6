package server

import "errors"

var (
	// ErrBuildUnavailable means the build could not be installed; nothing was spawned.
	ErrBuildUnavailable = errors.New("build unavailable")
	// ErrSessionAlreadyActive rejects a Start while another session is live.
	ErrSessionAlreadyActive = errors.New("a server session is already active")
	// ErrProcessSpawnFailed means the server process could not be launched.
	ErrProcessSpawnFailed = errors.New("failed to spawn server process")
	// ErrUnexpectedExit is reported when the server exits without a Stop.
	ErrUnexpectedExit = errors.New("server exited unexpectedly")
	// ErrStartCancelled is returned when Stop is called while a Start is still installing.
	ErrStartCancelled = errors.New("start cancelled")
	// ErrShuttingDown rejects a Start after Shutdown.
	ErrShuttingDown = errors.New("runtime manager is shutting down")
)
