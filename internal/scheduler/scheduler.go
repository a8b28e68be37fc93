package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/config"
	"cnpj-relay-go/internal/metrics"
)

// Pruner deletes relay logs older than a cutoff
type Pruner interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs log retention on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.RetentionConfig
	pruner    Pruner
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex
	now       func() time.Time
}

// NewScheduler creates a new retention scheduler
func NewScheduler(cfg config.RetentionConfig, pruner Pruner, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		config:  cfg,
		pruner:  pruner,
		metrics: m,
		now:     time.Now,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.Days <= 0 {
		return fmt.Errorf("log retention is disabled")
	}

	c := cron.New(cron.WithSeconds())
	entryID, err := c.AddFunc(s.config.Schedule, s.prune)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.WithFields(logrus.Fields{
		"schedule": s.config.Schedule,
		"days":     s.config.Days,
	}).Info("Log retention scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running prune to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		logrus.Info("Log retention scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Log retention scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) prune() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.run(ctx); err != nil {
		logrus.WithError(err).Error("Log retention run failed")
	}
}

// RunOnce prunes expired logs immediately and returns how many were deleted
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	if s.config.Days <= 0 {
		return 0, nil
	}
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (int64, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	cutoff := s.now().AddDate(0, 0, -s.config.Days)
	start := time.Now()

	deleted, err := s.pruner.PruneLogs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastRun = start
	s.mu.Unlock()

	s.metrics.PrunedLogs.Add(float64(deleted))
	logrus.WithFields(logrus.Fields{
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": time.Since(start),
	}).Info("Log retention run completed")
	return deleted, nil
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last completed run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for in-flight prunes to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
