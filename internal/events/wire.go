package events

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// Frame types on the wire.
const (
	FrameEvent    = "event"
	FrameBatch    = "batch"
	FrameResponse = "response"
	FrameError    = "error"
	FramePong     = "pong"
)

// Message is one encoded outbound frame. Compressed messages are gzip and
// travel as binary; plain JSON travels as text.
type Message struct {
	Data       []byte
	Compressed bool
}

// Codec encodes frames, compressing payloads over the threshold.
type Codec struct {
	minCompress int
}

// NewCodec builds a codec; minCompress <= 0 disables compression.
func NewCodec(minCompress int) *Codec {
	return &Codec{minCompress: minCompress}
}

type eventFrame struct {
	Type      string              `json:"type"`
	EventType model.EventType     `json:"event_type"`
	Data      any                 `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
	ID        string              `json:"id,omitempty"`
	Priority  model.EventPriority `json:"priority,omitempty"`
}

type batchFrame struct {
	Type      string        `json:"type"`
	Events    []model.Event `json:"events"`
	BatchID   string        `json:"batch_id"`
	Timestamp time.Time     `json:"timestamp"`
}

type responseFrame struct {
	Type    string `json:"type"`
	Request string `json:"request"`
	Data    any    `json:"data,omitempty"`
}

type errorFrame struct {
	Type    string      `json:"type"`
	Code    apperr.Code `json:"error_code"`
	Message string      `json:"message"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Codec) Event(e model.Event) (Message, error) {
	f := eventFrame{
		Type:      FrameEvent,
		EventType: e.Type,
		Data:      e.Data,
		Timestamp: e.CreatedAt,
		Priority:  e.Priority,
	}
	if e.ID != uuid.Nil {
		f.ID = e.ID.String()
	}
	data, err := json.Marshal(f)
	return c.finish(data, err)
}

func (c *Codec) Batch(events []model.Event) (Message, error) {
	id, _ := uuid.NewV7()
	data, err := json.Marshal(batchFrame{
		Type:      FrameBatch,
		Events:    events,
		BatchID:   id.String(),
		Timestamp: time.Now().UTC(),
	})
	return c.finish(data, err)
}

func (c *Codec) Response(request string, data any) (Message, error) {
	b, err := json.Marshal(responseFrame{Type: FrameResponse, Request: request, Data: data})
	return c.finish(b, err)
}

func (c *Codec) Error(code apperr.Code, msg string) (Message, error) {
	b, err := json.Marshal(errorFrame{Type: FrameError, Code: code, Message: msg})
	return c.finish(b, err)
}

func (c *Codec) Pong() (Message, error) {
	b, err := json.Marshal(pongFrame{Type: FramePong, Timestamp: time.Now().UTC()})
	return c.finish(b, err)
}

func (c *Codec) finish(data []byte, err error) (Message, error) {
	if err != nil {
		return Message{}, err
	}
	if c.minCompress <= 0 || len(data) < c.minCompress {
		return Message{Data: data}, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return Message{Data: data}, nil
	}
	if err := zw.Close(); err != nil {
		return Message{Data: data}, nil
	}
	if buf.Len() >= len(data) {
		return Message{Data: data}, nil
	}
	return Message{Data: buf.Bytes(), Compressed: true}, nil
}
