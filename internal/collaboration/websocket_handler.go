package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"momo-collab/internal/auth"
	"momo-collab/internal/middleware"
	"momo-collab/internal/models"
	"momo-collab/internal/protocol"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// handshakeTimeout bounds how long a connection may sit unauthenticated.
const handshakeTimeout = 4 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin restrictions are applied by the fronting proxy.
		return true
	},
}

// WebSocketHandler admits connections into collaboration rooms: upgrade,
// authenticate, attach, pump.
type WebSocketHandler struct {
	manager       *Manager
	authenticator *auth.Authenticator
}

// NewWebSocketHandler creates a new collaboration endpoint handler.
func NewWebSocketHandler(manager *Manager, authenticator *auth.Authenticator) *WebSocketHandler {
	return &WebSocketHandler{manager: manager, authenticator: authenticator}
}

// HandleCollaboration serves the collaboration upgrade path. The room key
// and bearer credential arrive either on the upgrade request (path variable
// and ?token=) or as the first protocol frame; authentication happens once,
// before the socket touches any room state, and a refusal carries a
// machine-readable reason rather than a silent drop.
func (h *WebSocketHandler) HandleCollaboration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomKey := mux.Vars(r)["room"]
	token := r.URL.Query().Get("token")

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("room.key", roomKey),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	principal, roomKey, err := h.handshake(ctx, conn, token, roomKey)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		refuse(conn, err)
		conn.Close()
		return
	}

	session := NewSession(h.manager, conn,
		models.NewSession(roomKey, principal.UserID, principal.Name, principal.Color, principal.Role))

	granted, err := protocol.EncodeAuth(protocol.AuthAccepted, protocol.AuthGranted{
		UserID: principal.UserID,
		Name:   principal.Name,
		Color:  principal.Color,
		Role:   string(principal.Role),
	})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, granted); err != nil {
			conn.Close()
			return
		}
	}

	room, err := h.manager.Attach(ctx, session)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		conn.Close()
		return
	}

	go session.WritePump(ctx)
	room.BeginSync(session)
	go session.ReadPump(ctx)

	log.Printf("session %s joined room %s as %s (user %s)",
		session.ID, roomKey, session.Role, session.UserID)
}

// handshake resolves the credential and room key, reading the first protocol
// frame when the upgrade request did not carry them, then authenticates.
func (h *WebSocketHandler) handshake(ctx context.Context, conn *websocket.Conn, token, roomKey string) (*auth.Principal, string, error) {
	if token == "" || roomKey == "" {
		conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, "", fmt.Errorf("%w: no auth message: %v", auth.ErrMissingCredential, err)
		}

		frame, err := protocol.Decode(raw)
		if err != nil || frame.Type != protocol.MessageAuth || frame.Sub != protocol.AuthToken {
			return nil, "", auth.ErrMissingCredential
		}
		var req protocol.AuthRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return nil, "", auth.ErrMissingCredential
		}
		if token == "" {
			token = req.Token
		}
		if roomKey == "" {
			roomKey = req.Room
		}
	}

	principal, err := h.authenticator.Authenticate(ctx, token, roomKey)
	if err != nil {
		return nil, "", err
	}
	return principal, roomKey, nil
}

// refuse closes the handshake with a machine-readable reason.
func refuse(conn *websocket.Conn, err error) {
	reason := "internal-error"
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		reason = "missing-credential"
	case errors.Is(err, auth.ErrInvalidCredential):
		reason = "invalid-credential"
	case errors.Is(err, auth.ErrDocumentNotFound):
		reason = "document-not-found"
	case errors.Is(err, auth.ErrForbidden):
		reason = "forbidden"
	}
	log.Printf("connection refused: %s (%v)", reason, err)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if frame, encErr := protocol.EncodeAuth(protocol.AuthDenied, protocol.AuthRefusal{Reason: reason}); encErr == nil {
		conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}
