package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a restart schedule
func ParseSchedule(schedule string) (cron.Schedule, error) {
	parsed, err := scheduleParser.Parse(strings.TrimSpace(schedule))
	if err != nil {
		return nil, fmt.Errorf("invalid restart schedule %q: %w", schedule, err)
	}
	return parsed, nil
}

// RestartScheduler restarts the running server on the auto_restart schedule
type RestartScheduler struct {
	manager *RuntimeManager
	cron    *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID
	schedule string
}

// NewRestartScheduler creates a scheduler for manager
func NewRestartScheduler(manager *RuntimeManager) *RestartScheduler {
	return &RestartScheduler{
		manager: manager,
		cron:    cron.New(cron.WithParser(scheduleParser)),
	}
}

// Apply replaces the active schedule with the one in cfg
func (s *RestartScheduler) Apply(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := strings.TrimSpace(cfg.AutoRestart.Schedule)
	if !cfg.AutoRestart.Enabled {
		schedule = ""
	}
	if schedule == s.schedule {
		return nil
	}

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.schedule = ""
	if schedule == "" {
		logging.L().Info("auto_restart_disabled")
		return nil
	}

	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	s.entry = s.cron.Schedule(parsed, cron.FuncJob(s.RestartNow))
	s.schedule = schedule
	logging.L().Info("auto_restart_scheduled", "schedule", schedule, "next_run", parsed.Next(time.Now()))
	return nil
}

// Next returns the time of the next scheduled restart
func (s *RestartScheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}, false
	}
	return s.cron.Entry(s.entry).Schedule.Next(time.Now()), true
}

// Run starts the cron loop and stops it when ctx is done
func (s *RestartScheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// RestartNow stops the running server and starts it again with the same
// build and folder. Nothing happens when no server is running.
func (s *RestartScheduler) RestartNow() {
	if s.manager.Status().State != StateRunning {
		return
	}
	build, folder, ok := s.manager.Target()
	if !ok {
		return
	}

	logging.L().Info("auto_restart_triggered", "build", build.Version, "folder", folder.Name())
	if err := s.manager.Stop(); err != nil {
		logging.L().Error("auto_restart_stop_failed", "error", err)
		return
	}
	if err := s.manager.Start(context.Background(), build, folder); err != nil {
		logging.L().Error("auto_restart_start_failed", "error", err)
	}
}
