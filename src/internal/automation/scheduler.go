package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers automation cycles on a cron schedule. A mutex-guarded
// flag skips a tick when the previous cycle is still running, so a slow
// cycle never stacks concurrent ones.
type Scheduler struct {
	orch    *Orchestrator
	c       *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

func NewScheduler(orch *Orchestrator, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Scheduler{
		orch:    orch,
		c:       cron.New(),
		timeout: timeout,
	}
}

// Start registers the cycle job under spec (standard cron or @every syntax)
// and begins ticking.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("failed to schedule automation cycle: %w", err)
	}
	s.c.Start()
	slog.Info("automation scheduler started", "schedule", spec)
	return nil
}

// Stop halts ticking and waits for a job already in flight to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("skipping automation cycle, previous cycle still running")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	report, err := s.orch.RunCycle(ctx, CycleOptions{})
	if err != nil {
		slog.Error("scheduled automation cycle failed", "error", err)
		return
	}
	slog.Info("scheduled automation cycle done", "users", report.UsersProcessed, "took", time.Since(started))
}
