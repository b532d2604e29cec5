package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// chanSink hands every frame to the test over a channel.
type chanSink struct {
	ch     chan Message
	closed chan struct{}
	once   sync.Once
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan Message, 64), closed: make(chan struct{})}
}

func (c *chanSink) Send(m Message) error { c.ch <- m; return nil }

func (c *chanSink) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *chanSink) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived")
		return Message{}
	}
}

func (c *chanSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-c.ch:
		t.Fatalf("unexpected frame: %s", m.Data)
	case <-time.After(wait):
	}
}

func decodeFrame(t *testing.T, m Message) map[string]any {
	t.Helper()
	require.False(t, m.Compressed)
	var got map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &got))
	return got
}

// stuckSink wedges every Send until the sink is closed, like a peer that
// stopped reading its socket.
type stuckSink struct {
	sending   chan struct{}
	closed    chan struct{}
	sendOnce  sync.Once
	closeOnce sync.Once
}

func newStuckSink() *stuckSink {
	return &stuckSink{sending: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stuckSink) Send(Message) error {
	s.sendOnce.Do(func() { close(s.sending) })
	<-s.closed
	return errors.New("sink closed")
}

func (s *stuckSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stuckSink) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type persistRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *persistRecorder) InsertEvent(_ context.Context, e model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *persistRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type mirrorRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (m *mirrorRecorder) Publish(e model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mirrorRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestBus(t *testing.T, cfg Config, store EventStore, mirror Mirror) *Bus {
	t.Helper()
	b := NewBus(cfg, store, mirror, zaptest.NewLogger(t))
	t.Cleanup(b.Close)
	return b
}

func TestBypassPriorityGoesOutImmediately(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: time.Hour, BatchMaxItems: 100}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)

	b.Emit(model.Event{Type: model.EventRollbackFailed, Priority: model.PriorityUrgent})

	got := decodeFrame(t, sink.next(t))
	assert.Equal(t, FrameEvent, got["type"])
}

func TestBatchFlushesOnCount(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: time.Hour, BatchMaxItems: 3}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)

	for i := 0; i < 3; i++ {
		b.Emit(model.Event{Type: model.EventZoneUpdated, Priority: model.PriorityNormal})
	}

	got := decodeFrame(t, sink.next(t))
	assert.Equal(t, FrameBatch, got["type"])
	assert.Len(t, got["events"], 3)
	assert.NotEmpty(t, got["batch_id"])
}

func TestBatchFlushesOnTimeout(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: 50 * time.Millisecond, BatchMaxItems: 100}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)

	b.Emit(model.Event{Type: model.EventZoneUpdated, Priority: model.PriorityNormal})
	b.Emit(model.Event{Type: model.EventRecordUpdated, Priority: model.PriorityNormal})

	got := decodeFrame(t, sink.next(t))
	assert.Equal(t, FrameBatch, got["type"])
	assert.Len(t, got["events"], 2)
}

func TestSinglePendingEventSkipsBatchEnvelope(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: 50 * time.Millisecond, BatchMaxItems: 100}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)

	b.Emit(model.Event{Type: model.EventZoneUpdated, Priority: model.PriorityNormal})

	got := decodeFrame(t, sink.next(t))
	assert.Equal(t, FrameEvent, got["type"])
}

func TestFilterSelectsEvents(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: 30 * time.Millisecond}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{
		Types: []model.EventType{model.EventZoneCreated},
	}, sink)

	b.Emit(model.Event{Type: model.EventRecordCreated, Priority: model.PriorityNormal})
	sink.none(t, 150*time.Millisecond)

	b.Emit(model.Event{Type: model.EventZoneCreated, Priority: model.PriorityNormal})
	got := decodeFrame(t, sink.next(t))
	assert.Equal(t, FrameEvent, got["type"])
}

func TestSecurityPayloadScrubbedForNonAdmin(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: 30 * time.Millisecond}, nil, nil)
	adminSink := newChanSink()
	viewerSink := newChanSink()
	b.Subscribe("admin", true, model.SubscriptionFilter{}, adminSink)
	b.Subscribe("viewer", false, model.SubscriptionFilter{}, viewerSink)

	b.Emit(model.Event{
		Type:     model.EventSecurityAlert,
		Category: model.CategorySecurity,
		Priority: model.PriorityNormal,
		Data: map[string]any{
			"domain":            "bad.example",
			"source_ip":         "203.0.113.9",
			"threat_indicators": []string{"c2"},
			"confidence_score":  0.97,
		},
	})

	adminData := decodeFrame(t, adminSink.next(t))["data"].(map[string]any)
	assert.Contains(t, adminData, "source_ip")

	viewerData := decodeFrame(t, viewerSink.next(t))["data"].(map[string]any)
	assert.Equal(t, "bad.example", viewerData["domain"])
	assert.NotContains(t, viewerData, "source_ip")
	assert.NotContains(t, viewerData, "threat_indicators")
	assert.NotContains(t, viewerData, "confidence_score")
}

func TestPersistFlagControlsStorage(t *testing.T) {
	store := &persistRecorder{}
	b := newTestBus(t, Config{}, store, nil)

	b.Emit(model.Event{Type: model.EventZoneCreated, Persist: true})
	b.Emit(model.Event{Type: model.EventQueryLog, Persist: false})

	assert.Equal(t, 1, store.count())
	assert.Equal(t, model.EventZoneCreated, store.events[0].Type)
	assert.NotEqual(t, [16]byte{}, [16]byte(store.events[0].ID), "emit fills the id")
}

func TestPersistDefaultStoresEverything(t *testing.T) {
	store := &persistRecorder{}
	b := newTestBus(t, Config{PersistDefault: true}, store, nil)

	b.Emit(model.Event{Type: model.EventQueryLog})
	assert.Equal(t, 1, store.count())
}

func TestMirrorSeesEveryEvent(t *testing.T) {
	mirror := &mirrorRecorder{}
	b := newTestBus(t, Config{}, nil, mirror)

	b.Emit(model.Event{Type: model.EventZoneCreated})
	b.Emit(model.Event{Type: model.EventQueryLog})
	assert.Equal(t, 2, mirror.count())
}

func TestUnsubscribeClosesSink(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	sink := newChanSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)
	require.Len(t, b.Subscriptions(), 1)

	b.Unsubscribe("s1")
	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was not closed")
	}
	assert.Empty(t, b.Subscriptions())
}

func TestStuckSubscriberClosedAfterRecoveryTimeout(t *testing.T) {
	b := newTestBus(t, Config{
		QueueCapacity:   2,
		BatchTimeout:    time.Hour,
		RecoveryTimeout: 20 * time.Millisecond,
	}, nil, nil)
	sink := newStuckSink()
	b.Subscribe("s1", true, model.SubscriptionFilter{}, sink)

	// First critical wedges the sender mid-Send.
	b.Emit(model.Event{Type: model.EventRollbackFailed, Priority: model.PriorityCritical})
	select {
	case <-sink.sending:
	case <-time.After(2 * time.Second):
		t.Fatal("sender never reached the sink")
	}

	// Criticals are never dropped, so the queue grows past capacity and
	// enters recovery with nobody draining it.
	for i := 0; i < 3; i++ {
		b.Emit(model.Event{Type: model.EventRollbackFailed, Priority: model.PriorityCritical})
	}

	time.Sleep(30 * time.Millisecond)
	b.Emit(model.Event{Type: model.EventRollbackFailed, Priority: model.PriorityCritical})

	require.Eventually(t, func() bool {
		return len(b.Subscriptions()) == 0 && sink.isClosed()
	}, 2*time.Second, 10*time.Millisecond, "stuck subscriber kept its connection")
}

func TestStatsCountEmits(t *testing.T) {
	store := &persistRecorder{}
	b := newTestBus(t, Config{}, store, nil)

	b.Emit(model.Event{Type: model.EventZoneCreated, Persist: true})
	b.Emit(model.Event{Type: model.EventZoneUpdated})

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Emitted)
	assert.Equal(t, uint64(1), st.Persisted)
	assert.Zero(t, st.PersistErrors)
}
