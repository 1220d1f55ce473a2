package httpapi

import (
	"time"

	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/OCAP2/fleetsim/pkg/streaming"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// updateMessage encodes an engine update as a stream envelope.
func updateMessage(u core.Update) ([]byte, error) {
	msgType := streaming.TypeForUpdate(u.Kind)
	switch u.Kind {
	case core.UpdateWaypointAdded, core.UpdateWaypointDeleted:
		payload := streaming.WaypointPayload{EntityID: u.EntityID, Point: u.Point}
		if u.Point != nil {
			payload.PointID = u.Point.ID
		}
		return streaming.Marshal(msgType, payload)
	default:
		snap := u.Snapshot
		return streaming.Marshal(msgType, &snap)
	}
}

// stream handles GET /api/v1/stream. The client receives a hello with the
// current snapshot followed by every engine update. Slow clients miss
// updates instead of blocking the engine.
func (s *Server) stream(c *gin.Context) {
	ctx := c.Request.Context()
	log := s.deps.Logger

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WarnContext(ctx, "Stream upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.streams.Add(1)
	s.mu.Unlock()
	defer s.streams.Done()
	defer conn.Close()

	updates := make(chan core.Update, s.deps.StreamBuffer)
	cancel := s.deps.Engine.Subscribe(func(u core.Update) {
		select {
		case updates <- u:
		default:
			log.DebugContext(ctx, "Stream client too slow, update dropped", "kind", u.Kind)
		}
	})
	defer cancel()

	snap := s.deps.Engine.Snapshot()
	hello, err := streaming.Marshal(streaming.TypeHello, streaming.HelloPayload{
		SessionID: s.deps.SessionID,
		Snapshot:  &snap,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to encode hello", "error", err)
		return
	}
	if err := s.write(conn, websocket.TextMessage, hello); err != nil {
		return
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	log.InfoContext(ctx, "Stream client connected")
	defer log.InfoContext(ctx, "Stream client disconnected")

	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			return
		case <-ping.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case u := <-updates:
			msg, err := updateMessage(u)
			if err != nil {
				log.ErrorContext(ctx, "Failed to encode update", "kind", u.Kind, "error", err)
				continue
			}
			if err := s.write(conn, websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msgType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(msgType, data)
}

// readPump discards client messages and closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
