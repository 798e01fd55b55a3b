package collaboration

import (
	"context"
	"log"
	"time"

	"momo-collab/internal/crdt"
	"momo-collab/internal/middleware"
	"momo-collab/internal/models"
	"momo-collab/internal/protocol"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Session is one admitted WebSocket connection, bound to exactly one room
// for its whole life.
type Session struct {
	*models.Session
	conn    *websocket.Conn
	send    chan []byte
	manager *Manager
	room    *Room

	// sync drives the join handshake; for viewers it runs over syncDoc, a
	// fork the handshake can safely write into.
	sync    *crdt.SyncState
	syncDoc *crdt.Doc

	// clientID is the awareness id the client announced for itself, recorded
	// so presence can be garbage-collected on disconnect.
	clientID int64
}

// NewSession wraps an upgraded connection for an authenticated principal.
func NewSession(m *Manager, conn *websocket.Conn, record *models.Session) *Session {
	return &Session{
		Session: record,
		conn:    conn,
		send:    make(chan []byte, 256),
		manager: m,
	}
}

// queue hands a frame to the write pump without ever blocking the caller.
func (s *Session) queue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		log.Printf("session %s send buffer full, dropping connection", s.ID)
		go s.close()
	}
}

// warn signals a protocol or permission problem to this connection only.
func (s *Session) warn(code, message string) {
	s.queue(protocol.EncodeWarning(code, message))
}

func (s *Session) close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// ReadPump reads frames from the socket and feeds them to the room. It owns
// the connection lifecycle: when it returns, for any reason, the session
// detaches and a disconnect is handled as a normal state transition.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.manager.Detach(s)
		s.close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("session %s read error: %v", s.ID, err)
			}
			return
		}
		s.LastActiveAt = time.Now()

		_, span := middleware.StartSpan(ctx, "Collaboration.HandleMessage",
			attribute.String("session.id", s.ID),
			attribute.String("room.key", s.RoomKey),
			attribute.Int("message.size", len(message)),
		)
		s.room.HandleMessage(s, message)
		span.End()
	}
}

// WritePump writes queued frames to the socket, one websocket message per
// frame so the binary framing stays intact, and keeps the connection alive
// with pings.
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
