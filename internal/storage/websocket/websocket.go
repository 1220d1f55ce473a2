package websocket

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/OCAP2/fleetsim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket to a remote collector.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("backend", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	if b.cfg.URL == "" {
		return fmt.Errorf("websocket backend: no url configured")
	}
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped is the number of messages discarded because the send queue was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope pushes the message to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartSession sends the hello message and waits for the server ack.
// The message is replayed on reconnect.
func (b *Backend) StartSession(s *core.Session) error {
	initial := s.Initial
	data, err := marshalEnvelope(streaming.TypeHello, streaming.HelloPayload{SessionID: s.ID, Snapshot: &initial})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.cachedHello = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeHello, ackTimeout)
}

// EndSession sends session_end and waits for the server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeSessionEnd, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeSessionEnd, ackTimeout)

	b.conn.mu.Lock()
	b.conn.cachedHello = nil
	b.conn.mu.Unlock()
	return err
}

func (b *Backend) RecordTick(s *core.Snapshot) error {
	return b.sendEnvelope(streaming.TypeTick, s)
}

func (b *Backend) RecordWaypoint(entityID int, p *core.HistoryPoint) error {
	return b.sendEnvelope(streaming.TypeWaypointAdded, streaming.WaypointPayload{EntityID: entityID, PointID: p.ID, Point: p})
}

func (b *Backend) DeleteWaypoint(entityID int, pointID uint64) error {
	return b.sendEnvelope(streaming.TypeWaypointDeleted, streaming.WaypointPayload{EntityID: entityID, PointID: pointID})
}
