package server

import (
	"context"
	"testing"

	"github.com/TheGojiOG/CfxSM/internal/config"
)

func TestParseSchedule(t *testing.T) {
	valid := []string{"0 6 * * *", "30 0 */4 * * *", "@daily", "@every 6h"}
	for _, schedule := range valid {
		if _, err := ParseSchedule(schedule); err != nil {
			t.Errorf("ParseSchedule(%q) failed: %v", schedule, err)
		}
	}

	for _, schedule := range []string{"", "not a schedule", "61 * * * *"} {
		if _, err := ParseSchedule(schedule); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", schedule)
		}
	}
}

func TestRestartSchedulerApply(t *testing.T) {
	manager, _ := newTestManager(t, false)
	scheduler := NewRestartScheduler(manager)

	cfg := config.Default()
	if err := scheduler.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	if _, ok := scheduler.Next(); ok {
		t.Fatal("disabled auto restart must not schedule anything")
	}

	cfg.AutoRestart.Enabled = true
	cfg.AutoRestart.Schedule = "@hourly"
	if err := scheduler.Apply(cfg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, ok := scheduler.Next(); !ok {
		t.Fatal("expected a scheduled restart")
	}

	cfg.AutoRestart.Schedule = "bogus"
	if err := scheduler.Apply(cfg); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if _, ok := scheduler.Next(); ok {
		t.Fatal("invalid schedule must clear the previous entry")
	}
}

func TestRestartNowCyclesRunningServer(t *testing.T) {
	manager, host := newTestManager(t, false)
	scheduler := NewRestartScheduler(manager)

	scheduler.RestartNow()
	if host.spawnCount() != 0 {
		t.Fatal("restart with no running server must do nothing")
	}

	build := installedBuild(t)
	folder := serverFolder(t)
	if err := manager.Start(context.Background(), build, folder); err != nil {
		t.Fatal(err)
	}
	first := manager.Status().SessionID

	scheduler.RestartNow()

	status := manager.Status()
	if status.State != StateRunning || status.SessionID == first {
		t.Fatalf("expected a fresh running session, got %+v", status)
	}
	if host.spawnCount() != 2 || host.runningCount() != 1 {
		t.Fatalf("expected one replacement process, spawned %d running %d", host.spawnCount(), host.runningCount())
	}
	if status.Build != build.Version || status.Folder != folder.Name() {
		t.Fatalf("restart changed the target: %+v", status)
	}
}
