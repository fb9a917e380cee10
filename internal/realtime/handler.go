package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/errify/internal/domain"
)

const maxInboundFrameSize = 4 * 1024

const (
	actionJoin      = "join"
	actionLeave     = "leave"
	actionJoinPost  = "join_post"
	actionLeavePost = "leave_post"
	actionJoinRoom  = "join_room"
	actionLeaveRoom = "leave_room"
	actionMessage   = "message"
)

// clientFrame is the only message clients send. The *_post actions take a
// bare post id and map it to the post's room. message relays payload to the
// other members of room.
type clientFrame struct {
	Action  string          `json:"action"`
	Room    string          `json:"room,omitempty"`
	PostID  string          `json:"postId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket connections, registers them with
// the hub and turns inbound frames into join, leave and relay requests.
type Handler struct {
	hub      *Hub
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, clock clockwork.Clock, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		hub:   hub,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	cw := newClientWriter(conn, h.clock)
	id, err := h.hub.Register(cw)
	if err != nil {
		slog.Warn("Rejecting WebSocket connection", "remote_addr", r.RemoteAddr, "error", err)
		cw.Close("server at capacity")
		return
	}
	defer h.hub.Unregister(id)

	conn.SetReadLimit(maxInboundFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket closed unexpectedly", "conn_id", id, "error", err)
			}
			return
		}
		h.handleFrame(id, data)
	}
}

func (h *Handler) handleFrame(id ConnID, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Debug("Ignoring malformed client frame", "conn_id", id, "error", err)
		return
	}

	raw := frame.Room
	if frame.Action == actionJoinPost || frame.Action == actionLeavePost {
		raw = string(domain.RoomFor(domain.EntityPost, frame.PostID))
	}
	room, err := domain.ParseRoom(raw)
	if err != nil {
		slog.Debug("Ignoring client frame with invalid room", "conn_id", id, "action", frame.Action, "error", err)
		return
	}

	switch frame.Action {
	case actionJoin, actionJoinPost, actionJoinRoom:
		err = h.hub.Join(id, room)
	case actionLeave, actionLeavePost, actionLeaveRoom:
		err = h.hub.Leave(id, room)
	case actionMessage:
		_, err = h.hub.Relay(context.Background(), id, room, frame.Payload)
	default:
		slog.Debug("Ignoring unknown client action", "conn_id", id, "action", frame.Action)
		return
	}
	if err != nil {
		slog.Warn("Room request failed", "conn_id", id, "action", frame.Action, "room", room.String(), "error", err)
	}
}
