package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/google/uuid"
)

// RuntimeManager supervises at most one server process. All session state
// is guarded by mu; the process host and installer are only called with mu
// released, except for the final spawn which must not race a Stop.
type RuntimeManager struct {
	store    *config.Store
	host     ProcessHost
	sessions SessionStore
	sink     EventSink
	metrics  Recorder

	mu              sync.Mutex
	state           State
	session         *session
	cancelRequested bool
	cancelInstall   context.CancelFunc
	restarts        int
	closed          bool
}

type session struct {
	id            string
	build         *builds.Build
	folder        *datafolder.Folder
	handle        ProcessHandle
	startedAt     time.Time
	restartOf     string
	stopRequested bool
}

// Option configures a RuntimeManager
type Option func(*RuntimeManager)

// WithSessionStore persists session history
func WithSessionStore(store SessionStore) Option {
	return func(m *RuntimeManager) { m.sessions = store }
}

// WithEventSink publishes session transitions
func WithEventSink(sink EventSink) Option {
	return func(m *RuntimeManager) { m.sink = sink }
}

// WithRecorder records runtime metrics
func WithRecorder(recorder Recorder) Option {
	return func(m *RuntimeManager) { m.metrics = recorder }
}

// NewRuntimeManager creates a manager and registers it as the host's exit handler
func NewRuntimeManager(store *config.Store, host ProcessHost, opts ...Option) *RuntimeManager {
	m := &RuntimeManager{
		store:   store,
		host:    host,
		metrics: nopRecorder{},
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	host.SetExitHandler(m.OnProcessExited)
	return m
}

// Start installs the build if needed and launches the server in folder.
// It blocks while the build is being installed.
func (m *RuntimeManager) Start(ctx context.Context, build *builds.Build, folder *datafolder.Folder) error {
	return m.start(ctx, build, folder, "")
}

func (m *RuntimeManager) start(ctx context.Context, build *builds.Build, folder *datafolder.Folder, restartOf string) error {
	if build == nil || folder == nil {
		return fmt.Errorf("%w: build and folder are required", ErrProcessSpawnFailed)
	}

	installCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if restartOf != "" {
		// a Stop during the crash window moves the state back to idle
		if m.state != StateCrashedRestarting {
			m.mu.Unlock()
			return ErrStartCancelled
		}
	} else if m.state.Active() {
		m.mu.Unlock()
		return ErrSessionAlreadyActive
	}
	m.state = StateStarting
	m.cancelRequested = false
	m.cancelInstall = cancel
	m.session = &session{build: build, folder: folder, restartOf: restartOf}
	m.mu.Unlock()

	logger := logging.L().With("build", build.Version, "folder", folder.Name())
	logger.Info("server_starting", "restart_of", restartOf)
	m.publish(Event{Type: EventStarting, State: StateStarting, Build: build.Version, Folder: folder.Name()})

	if !folder.Exists() {
		return m.failStart(fmt.Errorf("%w: data folder %s does not exist", ErrProcessSpawnFailed, folder.Path), "folder_missing")
	}

	if !build.IsInstalled() {
		m.publish(Event{Type: EventInstalling, State: StateStarting, Build: build.Version, Folder: folder.Name()})
		if err := build.EnsureInstalled(installCtx); err != nil {
			if m.cancelled() {
				return m.failStart(ErrStartCancelled, "cancelled")
			}
			return m.failStart(fmt.Errorf("%w: %v", ErrBuildUnavailable, err), "build_unavailable")
		}
	}

	if m.cancelled() {
		return m.failStart(ErrStartCancelled, "cancelled")
	}

	cfg := m.store.Get()

	settings, err := folder.Settings()
	if err != nil {
		logger.Warn("folder_settings_invalid", "error", err)
	}

	if cfg.ClearCacheOnStart {
		if err := folder.ClearCache(); err != nil {
			logger.Warn("server_cache_clear_failed", "error", err)
		}
	}

	params := BuildLaunchArguments(cfg, settings, build)
	logger.Info("server_launch_arguments", "executable", build.Executable(), "args", params.Redacted())

	spec := ProcessSpec{
		Executable: build.Executable(),
		Args:       params.Args,
		WorkingDir: folder.Path,
		ConsoleLog: folder.ConsoleLogPath(),
	}

	m.mu.Lock()
	if m.cancelRequested {
		m.mu.Unlock()
		return m.failStart(ErrStartCancelled, "cancelled")
	}
	handle, err := m.host.Start(spec)
	if err != nil {
		m.mu.Unlock()
		return m.failStart(fmt.Errorf("%w: %s", ErrProcessSpawnFailed, RedactArguments(err.Error(), params.License)), "spawn_failed")
	}
	current := m.session
	current.id = uuid.NewString()
	current.handle = handle
	current.startedAt = time.Now()
	m.state = StateRunning
	m.cancelInstall = nil
	m.mu.Unlock()

	m.metrics.SessionStarted()
	m.metrics.SetRunning(true)
	logger.Info("server_running", "session_id", current.id, "pid", handle.PID)

	m.recordBegin(current)
	m.publish(Event{Type: EventRunning, State: StateRunning, SessionID: current.id, Build: build.Version, Folder: folder.Name()})
	return nil
}

func (m *RuntimeManager) failStart(err error, reason string) error {
	m.mu.Lock()
	var build, folder string
	if m.session != nil {
		build = m.session.build.Version
		folder = m.session.folder.Name()
	}
	if m.state == StateStarting {
		m.state = StateIdle
		m.session = nil
	}
	m.cancelInstall = nil
	m.cancelRequested = false
	m.mu.Unlock()

	m.metrics.StartFailed(reason)
	level := slog.LevelError
	if errors.Is(err, ErrStartCancelled) {
		level = slog.LevelInfo
	}
	logging.L().Log(context.Background(), level, "server_start_failed", "build", build, "folder", folder, "reason", reason, "error", err)
	m.publish(Event{Type: EventStartFailed, State: StateIdle, Build: build, Folder: folder, Error: err.Error()})
	return err
}

func (m *RuntimeManager) cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelRequested
}

// Shutdown stops the server and refuses every later Start, including
// pending crash restarts.
func (m *RuntimeManager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stop terminates the running server and returns once it has exited.
// Stopping an idle manager is a no-op.
func (m *RuntimeManager) Stop() error {
	m.mu.Lock()
	switch m.state {
	case StateStarting:
		m.cancelRequested = true
		if m.cancelInstall != nil {
			m.cancelInstall()
		}
		m.mu.Unlock()
		logging.L().Info("server_start_cancel_requested")
		return nil

	case StateCrashedRestarting:
		current := m.session
		m.state = StateIdle
		m.session = nil
		m.mu.Unlock()
		m.publishStopped(current)
		return nil

	case StateRunning, StateStopping:
		current := m.session
		current.stopRequested = true
		m.state = StateStopping
		handle := current.handle
		m.mu.Unlock()

		logging.L().Info("server_stopping", "session_id", current.id, "pid", handle.PID)
		m.publish(Event{Type: EventStopping, State: StateStopping, SessionID: current.id, Build: current.build.Version, Folder: current.folder.Name()})

		if err := m.host.Stop(handle); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		// hosts that report the exit asynchronously are settled here
		if !m.host.IsRunning(handle) {
			m.OnProcessExited(ExitEvent{Handle: handle, Requested: true, ExitCode: 0})
		}
		return nil

	default:
		m.mu.Unlock()
		return nil
	}
}

// OnProcessExited handles exit notifications from the process host. Events
// for a process other than the current one are ignored.
func (m *RuntimeManager) OnProcessExited(ev ExitEvent) {
	m.mu.Lock()
	current := m.session
	if current == nil || current.handle.ID == 0 || current.handle != ev.Handle {
		m.mu.Unlock()
		logging.L().Debug("server_exit_ignored", "pid", ev.Handle.PID, "exit_code", ev.ExitCode)
		return
	}

	m.session = nil
	code := ev.ExitCode
	requested := ev.Requested || current.stopRequested
	if requested {
		m.state = StateIdle
		m.mu.Unlock()

		m.metrics.SetRunning(false)
		logging.L().Info("server_stopped", "session_id", current.id, "exit_code", code)
		m.recordFinish(current, StateIdle, &code, "")
		m.publishStopped(current)
		return
	}

	restart := m.store.Get().RestartOnCrash
	if restart {
		m.state = StateCrashedRestarting
		m.restarts++
	} else {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.metrics.SetRunning(false)
	m.metrics.Crashed()
	logging.L().Warn("server_crashed", "session_id", current.id, "exit_code", code, "restart", restart)

	crashState := StateCrashedStopped
	if restart {
		crashState = StateCrashedRestarting
	}
	m.recordFinish(current, crashState, &code, ErrUnexpectedExit.Error())
	m.publish(Event{
		Type:      EventCrashed,
		State:     crashState,
		SessionID: current.id,
		Build:     current.build.Version,
		Folder:    current.folder.Name(),
		ExitCode:  &code,
		Error:     ErrUnexpectedExit.Error(),
	})

	if restart {
		go m.restart(current)
	}
}

func (m *RuntimeManager) restart(previous *session) {
	m.metrics.Restarted()
	m.publish(Event{Type: EventRestarting, State: StateCrashedRestarting, SessionID: previous.id, Build: previous.build.Version, Folder: previous.folder.Name()})

	if err := m.start(context.Background(), previous.build, previous.folder, previous.id); err != nil {
		logging.L().Error("server_restart_failed", "previous_session", previous.id, "error", err)
	}
}

// Status returns a snapshot of the session
func (m *RuntimeManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:    m.state,
		Running:  m.state == StateRunning,
		Restarts: m.restarts,
	}
	if m.session != nil {
		status.SessionID = m.session.id
		status.Build = m.session.build.Version
		status.Folder = m.session.folder.Name()
		status.PID = m.session.handle.PID
		if !m.session.startedAt.IsZero() {
			started := m.session.startedAt
			status.StartedAt = &started
		}
	}
	return status
}

// Target returns the build and folder of the current session, if any
func (m *RuntimeManager) Target() (*builds.Build, *datafolder.Folder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil, false
	}
	return m.session.build, m.session.folder, true
}

// Sessions returns recent session history, newest first
func (m *RuntimeManager) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if m.sessions == nil {
		return []SessionRecord{}, nil
	}
	return m.sessions.Recent(ctx, limit)
}

func (m *RuntimeManager) publishStopped(s *session) {
	event := Event{Type: EventStopped, State: StateIdle}
	if s != nil {
		event.SessionID = s.id
		event.Build = s.build.Version
		event.Folder = s.folder.Name()
	}
	m.publish(event)
}

func (m *RuntimeManager) publish(event Event) {
	if m.sink == nil {
		return
	}
	event.Time = time.Now()
	m.sink.Publish(event)
}

func (m *RuntimeManager) recordBegin(s *session) {
	if m.sessions == nil {
		return
	}
	err := m.sessions.Begin(context.Background(), SessionRecord{
		ID:        s.id,
		Build:     s.build.Version,
		Folder:    s.folder.Name(),
		State:     StateRunning,
		PID:       s.handle.PID,
		RestartOf: s.restartOf,
		StartedAt: s.startedAt,
	})
	if err != nil {
		logging.L().Warn("session_record_failed", "session_id", s.id, "error", err)
	}
}

func (m *RuntimeManager) recordFinish(s *session, state State, exitCode *int, message string) {
	if m.sessions == nil {
		return
	}
	if err := m.sessions.Finish(context.Background(), s.id, state, exitCode, message); err != nil {
		logging.L().Warn("session_record_failed", "session_id", s.id, "error", err)
	}
}
