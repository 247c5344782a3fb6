package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/logging"
)

// DefaultStopGrace is how long Stop waits after an interrupt before killing.
const DefaultStopGrace = 15 * time.Second

// OutputFunc receives every line the server prints
type OutputFunc func(handle ProcessHandle, line string)

// LocalProcessHost runs the server as a child of this process
type LocalProcessHost struct {
	logCfg config.LoggingConfig
	grace  time.Duration
	output OutputFunc

	mu     sync.Mutex
	nextID uint64
	procs  map[uint64]*localProcess
	onExit func(ExitEvent)
}

type localProcess struct {
	handle    ProcessHandle
	cmd       *exec.Cmd
	console   io.WriteCloser
	done      chan struct{}
	requested bool
}

// NewLocalProcessHost creates a host. logCfg sizes the rotated console logs.
func NewLocalProcessHost(logCfg config.LoggingConfig, grace time.Duration, output OutputFunc) *LocalProcessHost {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &LocalProcessHost{
		logCfg: logCfg,
		grace:  grace,
		output: output,
		procs:  make(map[uint64]*localProcess),
	}
}

// SetExitHandler registers the exit callback
func (h *LocalProcessHost) SetExitHandler(fn func(ExitEvent)) {
	h.mu.Lock()
	h.onExit = fn
	h.mu.Unlock()
}

// Start launches the process
func (h *LocalProcessHost) Start(spec ProcessSpec) (ProcessHandle, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ProcessHandle{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ProcessHandle{}, err
	}

	var console io.WriteCloser
	if spec.ConsoleLog != "" {
		console, err = logging.NewConsoleWriter(spec.ConsoleLog, h.logCfg)
		if err != nil {
			logging.L().Warn("console_log_unavailable", "path", spec.ConsoleLog, "error", err)
			console = nil
		}
	}

	if err := cmd.Start(); err != nil {
		if console != nil {
			console.Close()
		}
		return ProcessHandle{}, err
	}

	h.mu.Lock()
	h.nextID++
	proc := &localProcess{
		handle:  ProcessHandle{ID: h.nextID, PID: cmd.Process.Pid},
		cmd:     cmd,
		console: console,
		done:    make(chan struct{}),
	}
	h.procs[proc.handle.ID] = proc
	h.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go h.pipe(proc, stdout, &readers)
	go h.pipe(proc, stderr, &readers)
	go h.wait(proc, &readers)

	return proc.handle, nil
}

func (h *LocalProcessHost) pipe(proc *localProcess, reader io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if proc.console != nil {
			fmt.Fprintln(proc.console, line)
		}
		if h.output != nil {
			h.output(proc.handle, line)
		}
	}
}

func (h *LocalProcessHost) wait(proc *localProcess, readers *sync.WaitGroup) {
	readers.Wait()
	err := proc.cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if proc.console != nil {
		proc.console.Close()
	}

	h.mu.Lock()
	delete(h.procs, proc.handle.ID)
	requested := proc.requested
	onExit := h.onExit
	h.mu.Unlock()

	if onExit != nil {
		onExit(ExitEvent{Handle: proc.handle, ExitCode: exitCode, Requested: requested})
	}
	close(proc.done)
}

// IsRunning reports whether the process has not exited yet
func (h *LocalProcessHost) IsRunning(handle ProcessHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.procs[handle.ID]
	return ok
}

// Stop interrupts the process, kills it after the grace period and waits
// for the exit handler to run. Unknown handles are a no-op.
func (h *LocalProcessHost) Stop(handle ProcessHandle) error {
	h.mu.Lock()
	proc, ok := h.procs[handle.ID]
	if ok {
		proc.requested = true
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	if runtime.GOOS == "windows" {
		if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill server process: %w", err)
		}
	} else if err := proc.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logging.L().Warn("server_interrupt_failed", "pid", handle.PID, "error", err)
	}

	select {
	case <-proc.done:
		return nil
	case <-time.After(h.grace):
	}

	logging.L().Warn("server_stop_grace_expired", "pid", handle.PID, "grace", h.grace.String())
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill server process: %w", err)
	}
	<-proc.done
	return nil
}
