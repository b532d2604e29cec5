package events

import (
	"sync"
	"time"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// queue is one subscriber's bounded buffer. On overflow the oldest
// droppable event makes room, lowest priority first; bypass-priority
// events are never the victim and may exceed capacity rather than be
// lost.
type queue struct {
	mu          sync.Mutex
	items       []model.Event
	capacity    int
	notify      chan struct{}
	dropped     uint64
	recovering  bool
	saturatedAt time.Time
}

func newQueue(capacity int) *queue {
	return &queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *queue) push(e model.Event) bool {
	q.mu.Lock()
	accepted := true
	if len(q.items) >= q.capacity {
		if !q.recovering {
			q.recovering = true
			q.saturatedAt = time.Now()
		}
		switch i := q.victimIndex(); {
		case i >= 0:
			copy(q.items[i:], q.items[i+1:])
			q.items = q.items[:len(q.items)-1]
			q.dropped++
		case e.Priority.Bypass():
			// Everything queued is bypass priority too; grow instead of
			// losing a critical event.
		default:
			q.dropped++
			accepted = false
		}
	}
	if accepted {
		q.items = append(q.items, e)
	}
	q.mu.Unlock()

	if accepted {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

// victimIndex picks the oldest event of the lowest droppable priority.
func (q *queue) victimIndex() int {
	for _, prio := range []model.EventPriority{model.PriorityLow, model.PriorityNormal, model.PriorityHigh} {
		for i, e := range q.items {
			if e.Priority == prio {
				return i
			}
		}
	}
	return -1
}

// drain takes everything queued. An emptied queue leaves recovery mode.
func (q *queue) drain() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	q.recovering = false
	q.saturatedAt = time.Time{}
	return out
}

// recoveringSince reports when the queue entered recovery, if it is
// still in it.
func (q *queue) recoveringSince() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.recovering {
		return time.Time{}, false
	}
	return q.saturatedAt, true
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) stats() (dropped uint64, recovering bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped, q.recovering
}
