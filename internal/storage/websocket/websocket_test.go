package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/OCAP2/fleetsim/pkg/streaming"
)

// testServer upgrades to WebSocket, records received envelopes and acks
// hello/session_end. When dropFirst is set the first connection is closed
// right after its hello is acked.
func testServer(t *testing.T, dropFirst bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	var conns atomic.Int32

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeHello || env.Type == streaming.TypeSessionEnd {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
				if dropFirst && n == 1 {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) count(msgType string) int {
	n := 0
	for _, env := range m.all() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSession() *core.Session {
	return &core.Session{
		ID:        "session-1",
		StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Interval:  3 * time.Second,
		Initial: core.Snapshot{
			Entities: []core.Entity{{ID: 1, Name: "Vehicle Alpha", Status: core.StatusActive}},
		},
	}
}

func TestInit_NoURL(t *testing.T) {
	b := New(Config{}, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInit_DialFails(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/ingest"}, nil)
	assert.ErrorContains(t, b.Init(), "websocket dial failed")
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "test"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(testSession()))
	require.NoError(t, b.EndSession())

	msgs := ml.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, streaming.TypeHello, msgs[0].Type)
	assert.Equal(t, streaming.TypeSessionEnd, msgs[len(msgs)-1].Type)

	var hello streaming.HelloPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &hello))
	assert.Equal(t, "session-1", hello.SessionID)
	require.NotNil(t, hello.Snapshot)
	assert.Equal(t, "Vehicle Alpha", hello.Snapshot.Entities[0].Name)
	assert.Equal(t, "test", ml.secret)
}

func TestFireAndForgetMessages(t *testing.T) {
	srv, ml := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(testSession()))
	require.NoError(t, b.RecordTick(&core.Snapshot{Tick: 1}))
	require.NoError(t, b.RecordWaypoint(3, &core.HistoryPoint{ID: 9, Name: "Depot", Status: core.StatusManual}))
	require.NoError(t, b.DeleteWaypoint(3, 9))
	require.NoError(t, b.EndSession())

	assert.Eventually(t, func() bool { return ml.count(streaming.TypeWaypointDeleted) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ml.count(streaming.TypeTick))
	assert.Equal(t, 1, ml.count(streaming.TypeWaypointAdded))
	assert.Equal(t, 1, ml.count(streaming.TypeSessionEnd))
	assert.Zero(t, b.Dropped())

	for _, env := range ml.all() {
		if env.Type != streaming.TypeWaypointAdded {
			continue
		}
		var p streaming.WaypointPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, 3, p.EntityID)
		assert.Equal(t, uint64(9), p.PointID)
		require.NotNil(t, p.Point)
		assert.Equal(t, "Depot", p.Point.Name)
	}
}

func TestReconnectReplaysHello(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv)}, nil)
	b.conn.firstBackoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(testSession()))

	assert.Eventually(t, func() bool { return b.conn.reconnects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return ml.count(streaming.TypeHello) == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, b.RecordTick(&core.Snapshot{Tick: 2}))
	assert.Eventually(t, func() bool { return ml.count(streaming.TypeTick) == 1 }, time.Second, 10*time.Millisecond)
}

func TestCloseTwice(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
	assert.ErrorContains(t, b.EndSession(), "closed")
}
