package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// SubscriberStats is one subscriber's delivery counters.
type SubscriberStats struct {
	Delivered  uint64 `json:"delivered"`
	Batches    uint64 `json:"batches"`
	Dropped    uint64 `json:"dropped"`
	SendErrors uint64 `json:"send_errors"`
	QueueDepth int    `json:"queue_depth"`
	Recovering bool   `json:"recovering"`
}

// Subscriber owns one sink and the goroutine draining its queue.
type Subscriber struct {
	ID    string
	Admin bool

	bus  *Bus
	sink Sink
	q    *queue

	fmu    sync.RWMutex
	filter model.SubscriptionFilter

	delivered  atomic.Uint64
	batches    atomic.Uint64
	sendErrors atomic.Uint64

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// Filter returns the current subscription filter.
func (s *Subscriber) Filter() model.SubscriptionFilter {
	s.fmu.RLock()
	defer s.fmu.RUnlock()
	return s.filter
}

// SetFilter replaces the subscription filter.
func (s *Subscriber) SetFilter(f model.SubscriptionFilter) {
	s.fmu.Lock()
	s.filter = f
	s.fmu.Unlock()
}

// Stats snapshots the subscriber's counters.
func (s *Subscriber) Stats() SubscriberStats {
	dropped, recovering := s.q.stats()
	return SubscriberStats{
		Delivered:  s.delivered.Load(),
		Batches:    s.batches.Load(),
		Dropped:    dropped,
		SendErrors: s.sendErrors.Load(),
		QueueDepth: s.q.depth(),
		Recovering: recovering,
	}
}

func (s *Subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// run drains the queue into hybrid batches: bypass-priority events flush
// what is pending and go out alone, everything else accumulates until the
// batch fills or the timeout fires. A single pending event skips the
// batch envelope.
func (s *Subscriber) run() {
	defer s.sink.Close()

	cfg := s.bus.cfg
	timer := time.NewTimer(cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending []model.Event
	var pendingBytes int

	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		var m Message
		var err error
		if len(pending) == 1 {
			m, err = s.bus.codec.Event(pending[0])
		} else {
			m, err = s.bus.codec.Batch(pending)
		}
		if err == nil {
			err = s.send(m)
		}
		if err != nil {
			return false
		}
		s.delivered.Add(uint64(len(pending)))
		if len(pending) > 1 {
			s.batches.Add(1)
		}
		pending = pending[:0]
		pendingBytes = 0
		return true
	}

	for {
		select {
		case <-s.done:
			flush()
			return
		case <-timer.C:
			if !flush() {
				s.detach()
				return
			}
		case <-s.q.notify:
			for _, e := range s.q.drain() {
				if e.Priority.Bypass() {
					if !flush() {
						s.detach()
						return
					}
					m, err := s.bus.codec.Event(e)
					if err == nil {
						err = s.send(m)
					}
					if err != nil {
						s.detach()
						return
					}
					s.delivered.Add(1)
					continue
				}

				wasEmpty := len(pending) == 0
				pending = append(pending, e)
				pendingBytes += payloadSize(e)
				if len(pending) >= s.batchLimit() || pendingBytes >= s.bus.cfg.BatchMaxBytes {
					if !flush() {
						s.detach()
						return
					}
				} else if wasEmpty {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(cfg.BatchTimeout)
				}
			}
		}
	}
}

// batchLimit adapts to pressure: a deep queue doubles the batch size so
// the sender catches up.
func (s *Subscriber) batchLimit() int {
	limit := s.bus.cfg.BatchMaxItems
	if s.q.depth() > s.bus.cfg.QueueCapacity/2 {
		limit *= 2
	}
	return limit
}

// send retries transient sink failures before giving up.
func (s *Subscriber) send(m Message) error {
	var err error
	for attempt := 0; attempt <= s.bus.cfg.DeliveryRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if err = s.sink.Send(m); err == nil {
			return nil
		}
		s.sendErrors.Add(1)
	}
	return err
}

// detach removes the subscriber after a delivery failure; the transport
// is gone and the queue would only fill up.
func (s *Subscriber) detach() {
	s.bus.logger.Warn("subscriber delivery failed, detaching", zap.String("subscriber", s.ID))
	go s.bus.Unsubscribe(s.ID)
}

// forceClose tears down a subscriber stuck in recovery. The sink closes
// first so a sender blocked mid-Send unwinds, then the subscriber is
// removed.
func (s *Subscriber) forceClose() {
	s.closeOnce.Do(func() {
		s.bus.logger.Warn("subscriber stuck in recovery, closing connection",
			zap.String("subscriber", s.ID))
		s.sink.Close()
		go s.bus.Unsubscribe(s.ID)
	})
}

// payloadSize is a cheap estimate of an event's encoded size.
func payloadSize(e model.Event) int {
	size := 200 // envelope fields
	if s, ok := e.Data.(string); ok {
		return size + len(s)
	}
	if m, ok := e.Data.(map[string]any); ok {
		for k, v := range m {
			size += len(k) + 16
			if s, ok := v.(string); ok {
				size += len(s)
			}
		}
		return size
	}
	return size + 256
}
