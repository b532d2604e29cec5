package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
	"github.com/dnsweaver/dnsweaver/internal/model"
)

// WSSink writes frames to one websocket connection. Compressed frames go
// out as binary messages, plain JSON as text.
type WSSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) Send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	mt := websocket.TextMessage
	if m.Compressed {
		mt = websocket.BinaryMessage
	}
	return s.conn.WriteMessage(mt, m.Data)
}

func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// SessionConfig carries the per-connection protocol limits.
type SessionConfig struct {
	// MessageRateLimit caps inbound messages per minute; zero disables.
	MessageRateLimit int
	// SubscribeRateLimit caps filter changes per minute; zero disables.
	SubscribeRateLimit int
	WriteTimeout       time.Duration
}

// clientMessage is what subscribers send us.
type clientMessage struct {
	Type        string                `json:"type"`
	EventTypes  []model.EventType     `json:"event_types,omitempty"`
	Categories  []model.EventCategory `json:"categories,omitempty"`
	MinSeverity model.EventSeverity   `json:"min_severity,omitempty"`
}

// ServeConn attaches a websocket connection to the bus and runs its read
// loop until the peer goes away. Blocks; call from the connection's
// handler goroutine.
func (b *Bus) ServeConn(conn *websocket.Conn, admin bool, filter model.SubscriptionFilter, cfg SessionConfig) {
	id, _ := uuid.NewV7()
	subID := id.String()
	sink := NewWSSink(conn, cfg.WriteTimeout)
	sub := b.Subscribe(subID, admin, filter, sink)
	defer b.Unsubscribe(subID)

	msgLimit := newRateLimiter(cfg.MessageRateLimit, time.Minute)
	subLimit := newRateLimiter(cfg.SubscribeRateLimit, time.Minute)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !msgLimit.allow() {
			b.sendError(sink, apperr.CodeRateLimited, "message rate limit exceeded")
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.sendError(sink, apperr.CodeValidation, "message is not valid JSON")
			continue
		}

		switch msg.Type {
		case "ping":
			if m, err := b.codec.Pong(); err == nil {
				sink.Send(m)
			}

		case "subscribe":
			if !subLimit.allow() {
				b.sendError(sink, apperr.CodeRateLimited, "subscription rate limit exceeded")
				continue
			}
			f := sub.Filter()
			f.Types = mergeTypes(f.Types, msg.EventTypes)
			f.Categories = mergeCategories(f.Categories, msg.Categories)
			if msg.MinSeverity != "" {
				f.MinSeverity = msg.MinSeverity
			}
			sub.SetFilter(f)
			b.respond(sink, "subscribe", f)

		case "unsubscribe":
			if !subLimit.allow() {
				b.sendError(sink, apperr.CodeRateLimited, "subscription rate limit exceeded")
				continue
			}
			f := sub.Filter()
			f.Types = removeTypes(f.Types, msg.EventTypes)
			f.Categories = removeCategories(f.Categories, msg.Categories)
			sub.SetFilter(f)
			b.respond(sink, "unsubscribe", f)

		case "get_subscriptions":
			b.respond(sink, "get_subscriptions", sub.Filter())

		case "get_stats":
			b.respond(sink, "get_stats", map[string]any{
				"subscriber": sub.Stats(),
				"bus":        b.Stats(),
			})

		default:
			b.sendError(sink, apperr.CodeValidation, "unknown message type "+msg.Type)
		}
	}
}

func (b *Bus) respond(sink Sink, request string, data any) {
	m, err := b.codec.Response(request, data)
	if err != nil {
		b.logger.Warn("encoding response failed", zap.String("request", request), zap.Error(err))
		return
	}
	sink.Send(m)
}

func (b *Bus) sendError(sink Sink, code apperr.Code, msg string) {
	if m, err := b.codec.Error(code, msg); err == nil {
		sink.Send(m)
	}
}

// rateLimiter is a fixed-window counter.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

func (r *rateLimiter) allow() bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}

func mergeTypes(have, add []model.EventType) []model.EventType {
	for _, t := range add {
		if !typeIn(have, t) {
			have = append(have, t)
		}
	}
	return have
}

func removeTypes(have, drop []model.EventType) []model.EventType {
	out := have[:0]
	for _, t := range have {
		if !typeIn(drop, t) {
			out = append(out, t)
		}
	}
	return out
}

func typeIn(ts []model.EventType, t model.EventType) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func mergeCategories(have, add []model.EventCategory) []model.EventCategory {
	for _, c := range add {
		if !categoryIn(have, c) {
			have = append(have, c)
		}
	}
	return have
}

func removeCategories(have, drop []model.EventCategory) []model.EventCategory {
	out := have[:0]
	for _, c := range have {
		if !categoryIn(drop, c) {
			out = append(out, c)
		}
	}
	return out
}

func categoryIn(cs []model.EventCategory, c model.EventCategory) bool {
	for _, v := range cs {
		if v == c {
			return true
		}
	}
	return false
}
