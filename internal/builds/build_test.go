package builds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/database"
)

// mockInstaller writes the server binary into the destination
type mockInstaller struct {
	calls   atomic.Int32
	delay   time.Duration
	failure error
}

func (m *mockInstaller) Install(ctx context.Context, version, destination string) error {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failure != nil {
		return m.failure
	}
	if err := os.MkdirAll(filepath.Join(destination, "citizen"), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(destination, ExecutableName()), []byte("bin"), 0755)
}

func TestExecutablePaths(t *testing.T) {
	catalog := NewCatalog("builds", nil, nil)
	build, err := catalog.Get("5848")
	if err != nil {
		t.Fatal(err)
	}

	want := "FXServer"
	if runtime.GOOS == "windows" {
		want = "FXServer.exe"
	}
	if filepath.Base(build.Executable()) != want {
		t.Errorf("unexpected executable %s", build.Executable())
	}
	if !filepath.IsAbs(build.Executable()) || !filepath.IsAbs(build.CitizenDir()) {
		t.Errorf("paths must be absolute: %s, %s", build.Executable(), build.CitizenDir())
	}
	if filepath.Base(build.CitizenDir()) != "citizen" {
		t.Errorf("unexpected citizen dir %s", build.CitizenDir())
	}
}

func TestCatalogSharesBuilds(t *testing.T) {
	catalog := NewCatalog(t.TempDir(), nil, nil)

	a, err := catalog.Get("5848")
	if err != nil {
		t.Fatal(err)
	}
	b, err := catalog.Get(" 5848 ")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("catalog should hand out one build per version")
	}

	for _, version := range []string{"", "..", "../etc", "a/b", "-rf"} {
		if _, err := catalog.Get(version); !errors.Is(err, ErrInvalidVersion) {
			t.Errorf("Get(%q) expected ErrInvalidVersion, got %v", version, err)
		}
	}
}

func TestEnsureInstalled(t *testing.T) {
	installer := &mockInstaller{}
	catalog := NewCatalog(t.TempDir(), installer, nil)
	build, _ := catalog.Get("6000")

	if build.State() != StateNotInstalled {
		t.Fatalf("expected not installed, got %s", build.State())
	}
	if err := build.EnsureInstalled(context.Background()); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if build.State() != StateInstalled || !build.IsInstalled() {
		t.Fatalf("expected installed, got %s", build.State())
	}

	if err := build.EnsureInstalled(context.Background()); err != nil {
		t.Fatal(err)
	}
	if installer.calls.Load() != 1 {
		t.Fatalf("installed build must not be reinstalled, calls = %d", installer.calls.Load())
	}
}

func TestEnsureInstalledSharesConcurrentInstalls(t *testing.T) {
	installer := &mockInstaller{delay: 100 * time.Millisecond}
	catalog := NewCatalog(t.TempDir(), installer, nil)
	build, _ := catalog.Get("6000")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- build.EnsureInstalled(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("install failed: %v", err)
		}
	}
	if installer.calls.Load() != 1 {
		t.Fatalf("expected one install, got %d", installer.calls.Load())
	}
}

func TestEnsureInstalledFailures(t *testing.T) {
	build, _ := NewCatalog(t.TempDir(), nil, nil).Get("6000")
	if err := build.EnsureInstalled(context.Background()); !errors.Is(err, ErrNoInstaller) {
		t.Fatalf("expected ErrNoInstaller, got %v", err)
	}

	failing := &mockInstaller{failure: errors.New("checksum mismatch")}
	build, _ = NewCatalog(t.TempDir(), failing, nil).Get("6000")
	if err := build.EnsureInstalled(context.Background()); err == nil {
		t.Fatal("expected install failure")
	}
	if build.State() != StateNotInstalled {
		t.Fatalf("failed install must leave the build not installed, got %s", build.State())
	}
}

func TestEnsureInstalledHonorsCancellation(t *testing.T) {
	installer := &mockInstaller{delay: time.Second}
	build, _ := NewCatalog(t.TempDir(), installer, nil).Get("6000")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := build.EnsureInstalled(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("caller should not wait for the install to finish")
	}

	deadline := time.Now().Add(3 * time.Second)
	for build.State() == StateInstalling && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// gatedInstaller blocks until released or cancelled
type gatedInstaller struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedInstaller() *gatedInstaller {
	return &gatedInstaller{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (g *gatedInstaller) Install(ctx context.Context, version, destination string) error {
	g.calls.Add(1)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return os.WriteFile(filepath.Join(destination, ExecutableName()), []byte("bin"), 0755)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitForWaiters(t *testing.T, build *Build, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		build.mu.Lock()
		joined := build.flight != nil && build.flight.waiters == n
		build.mu.Unlock()
		if joined {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d callers waiting on the install", n)
}

func waitForInstallToSettle(t *testing.T, build *Build) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for build.State() == StateInstalling && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if build.State() == StateInstalling {
		t.Fatal("install did not finish")
	}
}

func TestCancelledCallerLeavesSharedInstallRunning(t *testing.T) {
	installer := newGatedInstaller()
	build, _ := NewCatalog(t.TempDir(), installer, nil).Get("6000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := make(chan error, 1)
	go func() {
		cancelled <- build.EnsureInstalled(ctx)
	}()
	<-installer.entered

	waiting := make(chan error, 1)
	go func() {
		waiting <- build.EnsureInstalled(context.Background())
	}()
	waitForWaiters(t, build, 2)

	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to return context.Canceled, got %v", err)
	}

	close(installer.release)
	select {
	case err := <-waiting:
		if err != nil {
			t.Fatalf("remaining caller must get the finished install, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remaining caller did not return")
	}
	if installer.calls.Load() != 1 || !build.IsInstalled() {
		t.Fatalf("expected one completed install, calls = %d", installer.calls.Load())
	}
}

func TestAbandonedInstallIsStartedAgain(t *testing.T) {
	installer := newGatedInstaller()
	build, _ := NewCatalog(t.TempDir(), installer, nil).Get("6000")

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- build.EnsureInstalled(ctx)
	}()
	<-installer.entered

	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitForInstallToSettle(t, build)
	if build.IsInstalled() {
		t.Fatal("abandoned install must be cancelled")
	}

	close(installer.release)
	if err := build.EnsureInstalled(context.Background()); err != nil {
		t.Fatalf("new caller must not inherit the cancelled install, got %v", err)
	}
	if installer.calls.Load() != 2 || !build.IsInstalled() {
		t.Fatalf("expected a second install, calls = %d", installer.calls.Load())
	}
}

func TestCatalogList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2431-abc", "5848-def", "10310-xyz"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	catalog := NewCatalog(dir, nil, nil)
	if _, err := catalog.Get("6000"); err != nil {
		t.Fatal(err)
	}

	list, err := catalog.List()
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(list))
	for i, build := range list {
		got[i] = build.Version
	}
	want := []string{"10310-xyz", "6000", "5848-def", "2431-abc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCatalogRecordsInstalls(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "builds.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	installer := &mockInstaller{}
	catalog := NewCatalog(t.TempDir(), installer, db)
	build, _ := catalog.Get("6000")
	if err := build.EnsureInstalled(context.Background()); err != nil {
		t.Fatal(err)
	}

	installs, err := catalog.Installs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(installs) != 1 || installs[0].Version != "6000" || installs[0].Status != "complete" || installs[0].FinishedAt == nil {
		t.Fatalf("unexpected install history: %+v", installs)
	}
}

func TestCommandInstaller(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	if NewCommandInstaller(config.InstallerConfig{}, "") != nil {
		t.Fatal("empty command should produce no installer")
	}

	installer := NewCommandInstaller(config.InstallerConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo fetching {version}; touch \"{destination}/" + ExecutableName() + "\""},
	}, "")

	build, _ := NewCatalog(t.TempDir(), installer, nil).Get("7290")
	if err := build.EnsureInstalled(context.Background()); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !build.IsInstalled() {
		t.Fatal("expected executable to be created by the command")
	}

	failing := NewCommandInstaller(config.InstallerConfig{Command: "/bin/sh", Args: []string{"-c", "exit 4"}}, "")
	if err := failing.Install(context.Background(), "1", t.TempDir()); err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
}
