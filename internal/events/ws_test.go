package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

func dialTestBus(t *testing.T, b *Bus, admin bool, session SessionConfig) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.ServeConn(conn, admin, model.SubscriptionFilter{}, session)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestSessionPingPong(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{})

	writeJSON(t, conn, map[string]any{"type": "ping"})
	got := readFrame(t, conn)
	assert.Equal(t, FramePong, got["type"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestSessionSubscribeNarrowsFilter(t *testing.T) {
	b := newTestBus(t, Config{BatchTimeout: 30 * time.Millisecond}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{})

	writeJSON(t, conn, map[string]any{
		"type":        "subscribe",
		"event_types": []string{"zone_created"},
	})
	resp := readFrame(t, conn)
	require.Equal(t, FrameResponse, resp["type"])
	assert.Equal(t, "subscribe", resp["request"])

	// Wait for exactly one subscriber with the narrowed filter.
	require.Eventually(t, func() bool {
		for _, f := range b.Subscriptions() {
			return len(f.Types) == 1 && f.Types[0] == model.EventZoneCreated
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// A non-matching event stays silent, a matching one arrives.
	b.Emit(model.Event{Type: model.EventRecordDeleted, Priority: model.PriorityNormal})
	b.Emit(model.Event{Type: model.EventZoneCreated, Priority: model.PriorityNormal})

	got := readFrame(t, conn)
	require.Equal(t, FrameEvent, got["type"])
	assert.Equal(t, "zone_created", got["event_type"])
}

func TestSessionUnsubscribeRemovesTypes(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{})

	writeJSON(t, conn, map[string]any{
		"type":        "subscribe",
		"event_types": []string{"zone_created", "zone_deleted"},
	})
	readFrame(t, conn)

	writeJSON(t, conn, map[string]any{
		"type":        "unsubscribe",
		"event_types": []string{"zone_created"},
	})
	resp := readFrame(t, conn)
	require.Equal(t, FrameResponse, resp["type"])

	writeJSON(t, conn, map[string]any{"type": "get_subscriptions"})
	subs := readFrame(t, conn)
	data, err := json.Marshal(subs["data"])
	require.NoError(t, err)
	var f model.SubscriptionFilter
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, []model.EventType{model.EventZoneDeleted}, f.Types)
}

func TestSessionSubscribeRateLimit(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{SubscribeRateLimit: 1})

	writeJSON(t, conn, map[string]any{"type": "subscribe", "event_types": []string{"zone_created"}})
	first := readFrame(t, conn)
	assert.Equal(t, FrameResponse, first["type"])

	writeJSON(t, conn, map[string]any{"type": "subscribe", "event_types": []string{"zone_deleted"}})
	second := readFrame(t, conn)
	assert.Equal(t, FrameError, second["type"])
	assert.Equal(t, "rate_limited", second["error_code"])
}

func TestSessionRejectsUnknownType(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{})

	writeJSON(t, conn, map[string]any{"type": "shutdown"})
	got := readFrame(t, conn)
	assert.Equal(t, FrameError, got["type"])
}

func TestSessionGetStats(t *testing.T) {
	b := newTestBus(t, Config{}, nil, nil)
	conn := dialTestBus(t, b, true, SessionConfig{})

	writeJSON(t, conn, map[string]any{"type": "get_stats"})
	got := readFrame(t, conn)
	require.Equal(t, FrameResponse, got["type"])
	data := got["data"].(map[string]any)
	assert.Contains(t, data, "subscriber")
	assert.Contains(t, data, "bus")
}
