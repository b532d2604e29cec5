// Package events is the in-process fan-out bus: producers emit, every
// subscriber owns a bounded queue drained by its own sender goroutine,
// and delivery batches adaptively. Persistent events land in the store;
// a JetStream mirror forwards them to external consumers.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// EventStore persists events flagged for retention.
type EventStore interface {
	InsertEvent(ctx context.Context, e model.Event) error
}

// Mirror forwards events to an external broker.
type Mirror interface {
	Publish(e model.Event)
}

// Sink delivers encoded frames to one subscriber's transport.
type Sink interface {
	Send(m Message) error
	Close() error
}

// Config carries the bus's delivery knobs.
type Config struct {
	QueueCapacity       int
	BatchMaxItems       int
	BatchMaxBytes       int
	BatchTimeout        time.Duration
	CompressionMinBytes int
	DeliveryRetries     int
	PersistDefault      bool
	// RecoveryTimeout bounds how long a subscriber may sit with a
	// saturated queue before its connection is closed.
	RecoveryTimeout time.Duration
}

func (c *Config) defaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.BatchMaxItems <= 0 {
		c.BatchMaxItems = 50
	}
	if c.BatchMaxBytes <= 0 {
		c.BatchMaxBytes = 64 * 1024
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 250 * time.Millisecond
	}
	if c.DeliveryRetries < 0 {
		c.DeliveryRetries = 0
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
}

// Stats is the bus-wide counter snapshot.
type Stats struct {
	Emitted       uint64 `json:"emitted"`
	Persisted     uint64 `json:"persisted"`
	PersistErrors uint64 `json:"persist_errors"`
	Dropped       uint64 `json:"dropped"`
	Subscribers   int    `json:"subscribers"`
}

// Bus is the fan-out hub.
type Bus struct {
	cfg    Config
	store  EventStore
	mirror Mirror
	codec  *Codec
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	emitted       atomic.Uint64
	persisted     atomic.Uint64
	persistErrors atomic.Uint64
}

func NewBus(cfg Config, store EventStore, mirror Mirror, logger *zap.Logger) *Bus {
	cfg.defaults()
	return &Bus{
		cfg:    cfg,
		store:  store,
		mirror: mirror,
		codec:  NewCodec(cfg.CompressionMinBytes),
		logger: logger,
		subs:   make(map[string]*Subscriber),
	}
}

// Emit publishes one event: fill defaults, persist if asked, mirror, and
// fan out to every matching subscriber. Emit never blocks on a slow
// subscriber.
func (b *Bus) Emit(e model.Event) {
	if e.ID == uuid.Nil {
		id, _ := uuid.NewV7()
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Priority == "" {
		e.Priority = model.PriorityNormal
	}
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	b.emitted.Add(1)

	if (e.Persist || b.cfg.PersistDefault) && b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.store.InsertEvent(ctx, e); err != nil {
			b.persistErrors.Add(1)
			b.logger.Warn("persisting event failed",
				zap.String("event_type", string(e.Type)), zap.Error(err))
		} else {
			b.persisted.Add(1)
		}
		cancel()
	}

	if b.mirror != nil {
		b.mirror.Publish(e)
	}

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Filter().Matches(e) {
			continue
		}
		s.q.push(ScrubForViewer(e, s.Admin))

		// A queue stuck in recovery means the consumer stopped draining;
		// past the deadline its connection is closed rather than letting
		// undroppable events pile up forever.
		if since, ok := s.q.recoveringSince(); ok && time.Since(since) >= b.cfg.RecoveryTimeout {
			s.forceClose()
		}
	}
}

// EmitCtx is Emit plus trace propagation: the active span's trace id
// rides along on the event.
func (b *Bus) EmitCtx(ctx context.Context, e model.Event) {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		e.TraceID = sc.TraceID().String()
	}
	b.Emit(e)
}

// Subscribe registers a sink and starts its sender goroutine.
func (b *Bus) Subscribe(id string, admin bool, filter model.SubscriptionFilter, sink Sink) *Subscriber {
	s := &Subscriber{
		ID:    id,
		Admin: admin,
		bus:   b,
		sink:  sink,
		q:     newQueue(b.cfg.QueueCapacity),
		done:  make(chan struct{}),
	}
	s.filter = filter

	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		prev.stop()
	}
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()
	b.logger.Info("subscriber attached", zap.String("subscriber", id), zap.Bool("admin", admin))
	return s
}

// Unsubscribe detaches a subscriber and closes its sink.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.stop()
		b.logger.Info("subscriber detached", zap.String("subscriber", id))
	}
}

// Subscriptions lists the attached subscribers and their filters.
func (b *Bus) Subscriptions() map[string]model.SubscriptionFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]model.SubscriptionFilter, len(b.subs))
	for id, s := range b.subs {
		out[id] = s.Filter()
	}
	return out
}

// Stats snapshots the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	var dropped uint64
	n := len(b.subs)
	for _, s := range b.subs {
		d, _ := s.q.stats()
		dropped += d
	}
	b.mu.RUnlock()

	return Stats{
		Emitted:       b.emitted.Load(),
		Persisted:     b.persisted.Load(),
		PersistErrors: b.persistErrors.Load(),
		Dropped:       dropped,
		Subscribers:   n,
	}
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}
