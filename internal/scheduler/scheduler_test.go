package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *eventRecorder) Emit(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func TestAddValidatesTasks(t *testing.T) {
	s := New(zaptest.NewLogger(t), nil)

	assert.Error(t, s.Add(Task{Every: time.Minute, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Task{Name: "x", Every: time.Minute}))
	assert.Error(t, s.Add(Task{Name: "x", Run: func(context.Context) error { return nil }}))

	ok := Task{Name: "x", Every: time.Minute, Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(ok))
	assert.Error(t, s.Add(ok), "duplicate name rejected")
}

func TestRunTaskCountsOutcomes(t *testing.T) {
	rec := &eventRecorder{}
	s := New(zaptest.NewLogger(t), rec)

	calls := 0
	task := Task{Name: "flaky", Every: time.Minute, Run: func(context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("boom")
		}
		return nil
	}}
	require.NoError(t, s.Add(task))
	st := s.tasks["flaky"]

	s.runTask(task, st)
	s.runTask(task, st)
	s.runTask(task, st)

	stats := s.Stats()["flaky"]
	assert.Equal(t, uint64(3), stats.Runs)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Empty(t, stats.LastError, "last run succeeded")
	assert.False(t, stats.LastRun.IsZero())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSchedulerFailed, events[0].Type)
	assert.Equal(t, "flaky", events[0].Data.(map[string]any)["task"])
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	s := New(zaptest.NewLogger(t), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "slow", Every: time.Minute, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Add(task))
	st := s.tasks["slow"]

	done := make(chan struct{})
	go func() {
		s.runTask(task, st)
		close(done)
	}()
	<-started

	// Second tick while the first is still in flight.
	s.runTask(task, st)
	close(release)
	<-done

	stats := s.Stats()["slow"]
	assert.Equal(t, uint64(1), stats.Runs)
	assert.Equal(t, uint64(1), stats.Skipped)
}

func TestStartDispatchesAndStopWaits(t *testing.T) {
	s := New(zaptest.NewLogger(t), nil)

	var mu sync.Mutex
	runs := 0
	require.NoError(t, s.Add(Task{Name: "tick", Every: time.Second, Run: func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 1
	}, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
