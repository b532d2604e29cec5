package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

func ev(prio model.EventPriority, typ model.EventType) model.Event {
	return model.Event{Type: typ, Priority: prio}
}

func TestQueueEvictsLowestPriorityFirst(t *testing.T) {
	q := newQueue(3)
	require.True(t, q.push(ev(model.PriorityNormal, "a")))
	require.True(t, q.push(ev(model.PriorityLow, "b")))
	require.True(t, q.push(ev(model.PriorityNormal, "c")))

	// Full: the oldest low-priority event is the victim.
	require.True(t, q.push(ev(model.PriorityNormal, "d")))

	items := q.drain()
	require.Len(t, items, 3)
	for _, e := range items {
		assert.NotEqual(t, model.EventType("b"), e.Type)
	}
	dropped, _ := q.stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestQueueNeverDropsBypassPriority(t *testing.T) {
	q := newQueue(2)
	require.True(t, q.push(ev(model.PriorityCritical, "a")))
	require.True(t, q.push(ev(model.PriorityUrgent, "b")))

	// Nothing is droppable, so a critical event grows the queue instead.
	require.True(t, q.push(ev(model.PriorityCritical, "c")))
	assert.Equal(t, 3, q.depth())

	// A low-priority event at capacity with no victim is rejected.
	assert.False(t, q.push(ev(model.PriorityLow, "d")))
	dropped, recovering := q.stats()
	assert.Equal(t, uint64(1), dropped)
	assert.True(t, recovering)
}

func TestQueueRecoversAfterDrain(t *testing.T) {
	q := newQueue(1)
	require.True(t, q.push(ev(model.PriorityLow, "a")))
	require.True(t, q.push(ev(model.PriorityLow, "b"))) // evicts a

	_, recovering := q.stats()
	assert.True(t, recovering)

	q.drain()
	_, recovering = q.stats()
	assert.False(t, recovering)
}

func TestQueueNotifyIsCoalesced(t *testing.T) {
	q := newQueue(10)
	for i := 0; i < 5; i++ {
		q.push(ev(model.PriorityNormal, "x"))
	}
	<-q.notify
	select {
	case <-q.notify:
		t.Fatal("notify channel should hold at most one token")
	default:
	}
	assert.Len(t, q.drain(), 5)
}
