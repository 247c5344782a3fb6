package builds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// State is where a build is in its install lifecycle
type State string

const (
	StateNotInstalled State = "not_installed"
	StateInstalling   State = "installing"
	StateInstalled    State = "installed"
)

// ErrNoInstaller is returned when a build is missing and nothing can fetch it.
var ErrNoInstaller = errors.New("no build installer configured")

// Installer fetches and unpacks a server build into destination.
type Installer interface {
	Install(ctx context.Context, version, destination string) error
}

// Build is one installable version of the server binary. Instances are
// owned by a Catalog, which hands out a single *Build per version.
type Build struct {
	Version string
	Folder  string

	catalog *Catalog

	mu         sync.Mutex
	installing bool
	flight     *installFlight
	generation int
}

// installFlight is one shared install attempt. It runs detached from the
// callers and is cancelled once every waiter has gone.
type installFlight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	prev    *installFlight
	once    sync.Once
	err     error
	done    chan struct{}
}

// ExecutableName is the server binary inside a build folder
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "FXServer.exe"
	}
	return "FXServer"
}

// Executable is the absolute path of the server binary
func (b *Build) Executable() string {
	return absolute(filepath.Join(b.Folder, ExecutableName()))
}

// CitizenDir is the runtime directory passed to the server on launch
func (b *Build) CitizenDir() string {
	return absolute(filepath.Join(b.Folder, "citizen"))
}

// IsInstalled probes the filesystem for the server binary
func (b *Build) IsInstalled() bool {
	info, err := os.Stat(b.Executable())
	return err == nil && !info.IsDir()
}

// State reports the current lifecycle state
func (b *Build) State() State {
	b.mu.Lock()
	installing := b.installing
	b.mu.Unlock()

	switch {
	case installing:
		return StateInstalling
	case b.IsInstalled():
		return StateInstalled
	default:
		return StateNotInstalled
	}
}

// EnsureInstalled makes sure the build is on disk, running the catalog's
// installer when it is not. Concurrent callers share one install.
func (b *Build) EnsureInstalled(ctx context.Context) error {
	if b.IsInstalled() {
		return nil
	}
	if b.catalog == nil || b.catalog.installer == nil {
		return fmt.Errorf("build %s is not installed: %w", b.Version, ErrNoInstaller)
	}

	f := b.join(ctx)
	defer b.leave(f)

	ch := b.catalog.group.DoChan(f.key, func() (any, error) {
		return nil, b.run(f)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join attaches the caller to the running install, or starts a new one when
// there is none or the current one was abandoned by all its waiters.
func (b *Build) join(ctx context.Context) *installFlight {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flight == nil || b.flight.ctx.Err() != nil {
		b.generation++
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.flight = &installFlight{
			key:    fmt.Sprintf("%s#%d", b.Version, b.generation),
			ctx:    flightCtx,
			cancel: cancel,
			prev:   b.flight,
			done:   make(chan struct{}),
		}
	}
	b.flight.waiters++
	return b.flight
}

func (b *Build) leave(f *installFlight) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

// run performs the install of f once. An abandoned predecessor is waited for
// so two installers never write into the same folder.
func (b *Build) run(f *installFlight) error {
	f.once.Do(func() {
		if f.prev != nil {
			<-f.prev.done
			f.prev = nil
		}
		if err := f.ctx.Err(); err != nil {
			f.err = fmt.Errorf("failed to install build %s: %w", b.Version, err)
		} else {
			f.err = b.install(f.ctx)
		}

		b.mu.Lock()
		if b.flight == f {
			b.flight = nil
		}
		b.mu.Unlock()
		close(f.done)
	})
	return f.err
}

func (b *Build) install(ctx context.Context) error {
	if b.IsInstalled() {
		return nil
	}

	b.setInstalling(true)
	defer b.setInstalling(false)

	record := b.catalog.recordInstallStart(b)
	err := b.catalog.installer.Install(ctx, b.Version, b.Folder)
	if err == nil && !b.IsInstalled() {
		err = fmt.Errorf("installer finished but %s is missing", b.Executable())
	}
	b.catalog.recordInstallFinish(record, err)

	if err != nil {
		return fmt.Errorf("failed to install build %s: %w", b.Version, err)
	}
	return nil
}

func (b *Build) setInstalling(value bool) {
	b.mu.Lock()
	b.installing = value
	b.mu.Unlock()
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
