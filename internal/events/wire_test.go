package events

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

func sampleEvent() model.Event {
	id, _ := uuid.NewV7()
	return model.Event{
		ID:        id,
		Type:      model.EventZoneCreated,
		Category:  model.CategoryDNS,
		Severity:  model.SeverityInfo,
		Priority:  model.PriorityNormal,
		Source:    "store",
		Data:      map[string]any{"zone": "internal.local"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestEventFrameShape(t *testing.T) {
	c := NewCodec(0)
	e := sampleEvent()
	m, err := c.Event(e)
	require.NoError(t, err)
	assert.False(t, m.Compressed)

	// The single-event frame is flat: consumers read event_type, data and
	// timestamp off the top level, not a nested envelope.
	var got map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Equal(t, FrameEvent, got["type"])
	assert.Equal(t, string(model.EventZoneCreated), got["event_type"])
	assert.Equal(t, e.ID.String(), got["id"])
	assert.Equal(t, string(model.PriorityNormal), got["priority"])
	assert.NotEmpty(t, got["timestamp"])

	data, ok := got["data"].(map[string]any)
	require.True(t, ok, "data payload is carried at the top level")
	assert.Equal(t, "internal.local", data["zone"])

	_, nested := got["event"]
	assert.False(t, nested, "no nested event envelope")
}

func TestBatchFrameShape(t *testing.T) {
	c := NewCodec(0)
	m, err := c.Batch([]model.Event{sampleEvent(), sampleEvent()})
	require.NoError(t, err)

	var got struct {
		Type      string          `json:"type"`
		Events    []model.Event   `json:"events"`
		BatchID   string          `json:"batch_id"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Equal(t, FrameBatch, got.Type)
	assert.Len(t, got.Events, 2)
	assert.NotEmpty(t, got.BatchID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestCompressionOverThreshold(t *testing.T) {
	c := NewCodec(256)
	e := sampleEvent()
	e.Data = map[string]any{"blob": strings.Repeat("repetitive payload ", 200)}

	m, err := c.Event(e)
	require.NoError(t, err)
	require.True(t, m.Compressed)

	zr, err := gzip.NewReader(bytes.NewReader(m.Data))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(plain, &got))
	assert.Equal(t, "event", got["type"])
}

func TestSmallFramesStayPlain(t *testing.T) {
	c := NewCodec(1 << 20)
	m, err := c.Event(sampleEvent())
	require.NoError(t, err)
	assert.False(t, m.Compressed)
	assert.True(t, json.Valid(m.Data))
}

func TestErrorAndPongFrames(t *testing.T) {
	c := NewCodec(0)

	m, err := c.Error(apperr.CodeRateLimited, "slow down")
	require.NoError(t, err)
	var ef map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &ef))
	assert.Equal(t, FrameError, ef["type"])
	assert.Equal(t, "rate_limited", ef["error_code"])

	m, err = c.Pong()
	require.NoError(t, err)
	var pf map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &pf))
	assert.Equal(t, FramePong, pf["type"])
}
