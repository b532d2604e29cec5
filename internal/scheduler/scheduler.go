// Package scheduler runs the periodic maintenance tasks: health sweeps,
// feed refreshes, backup pruning and log retention. A slow task is skipped
// on its next tick rather than piled up; a failing task is logged and
// reported, never fatal.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// Task is one named periodic job.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Publisher receives task-failure events.
type Publisher interface {
	Emit(model.Event)
}

// TaskStats is one task's counter snapshot.
type TaskStats struct {
	Runs      uint64    `json:"runs"`
	Failures  uint64    `json:"failures"`
	Skipped   uint64    `json:"skipped"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

type taskState struct {
	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// Scheduler wraps cron with per-task accounting.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	pub    Publisher

	mu      sync.Mutex
	baseCtx context.Context
	tasks   map[string]*taskState
}

func New(logger *zap.Logger, pub Publisher) *Scheduler {
	cronLog := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLog))),
		logger:  logger,
		pub:     pub,
		baseCtx: context.Background(),
		tasks:   make(map[string]*taskState),
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil || t.Every <= 0 {
		return fmt.Errorf("task needs a name, an interval and a function")
	}
	s.mu.Lock()
	if _, dup := s.tasks[t.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("task %s is already registered", t.Name)
	}
	st := &taskState{}
	s.tasks[t.Name] = st
	s.mu.Unlock()

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", t.Every), func() {
		s.runTask(t, st)
	})
	return err
}

// Start begins dispatching. ctx is handed to every task run and cancels
// in-flight work on shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop halts dispatching and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Stats snapshots every task's counters.
func (s *Scheduler) Stats() map[string]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStats, len(s.tasks))
	for name, st := range s.tasks {
		st.mu.Lock()
		out[name] = TaskStats{
			Runs:      st.runs.Load(),
			Failures:  st.failures.Load(),
			Skipped:   st.skipped.Load(),
			LastRun:   st.lastRun,
			LastError: st.lastErr,
		}
		st.mu.Unlock()
	}
	return out
}

// runTask executes one tick. A task still running from its previous tick
// is skipped, not stacked.
func (s *Scheduler) runTask(t Task, st *taskState) {
	if !st.running.CompareAndSwap(false, true) {
		st.skipped.Add(1)
		s.logger.Debug("task still running, tick skipped", zap.String("task", t.Name))
		return
	}
	defer st.running.Store(false)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	started := time.Now()
	err := t.Run(ctx)

	st.runs.Add(1)
	st.mu.Lock()
	st.lastRun = started.UTC()
	if err != nil {
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
	st.mu.Unlock()

	if err == nil {
		s.logger.Debug("task done",
			zap.String("task", t.Name), zap.Duration("took", time.Since(started)))
		return
	}

	st.failures.Add(1)
	s.logger.Error("task failed", zap.String("task", t.Name), zap.Error(err))
	if s.pub != nil {
		id, _ := uuid.NewV7()
		s.pub.Emit(model.Event{
			ID:       id,
			Type:     model.EventSchedulerFailed,
			Category: model.CategorySystem,
			Severity: model.SeverityError,
			Priority: model.PriorityNormal,
			Source:   "scheduler",
			Data: map[string]any{
				"task":  t.Name,
				"error": err.Error(),
			},
			CreatedAt: time.Now().UTC(),
			Persist:   true,
		})
	}
}
