package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/errify/internal/domain"
)

// messageKind tags relayed client messages on the wire. It is not a domain
// event kind: relayed messages never come from a committed write.
const messageKind = "message"

var (
	ErrNotMember      = errors.New("connection is not a member of the room")
	ErrInvalidMessage = errors.New("message payload must be a JSON object")
)

// Message is the envelope delivered to the other members of a room.
type Message struct {
	Kind      string          `json:"kind"`
	Room      domain.Room     `json:"room"`
	From      ConnID          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type relayCmd struct {
	baseHubCmd
	from  ConnID
	room  domain.Room
	frame []byte
	reply chan relayResult
}

type relayResult struct {
	delivered int
	err       error
}

// Relay forwards payload from one connection to every other member of room.
// The sender must have joined room. Delivery is best effort like Dispatch.
func (h *Hub) Relay(ctx context.Context, from ConnID, room domain.Room, payload json.RawMessage) (int, error) {
	if _, err := domain.ParseRoom(string(room)); err != nil {
		return 0, err
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return 0, ErrInvalidMessage
	}

	frame, err := json.Marshal(Message{
		Kind:      messageKind,
		Room:      room,
		From:      from,
		Payload:   trimmed,
		Timestamp: h.clock.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	reply := make(chan relayResult, 1)
	res, err := call(ctx, h, relayCmd{from: from, room: room, frame: frame, reply: reply}, reply)
	if err != nil {
		return 0, err
	}
	return res.delivered, res.err
}

func (h *Hub) handleRelay(c relayCmd) relayResult {
	if !h.members.has(c.from) {
		return relayResult{err: fmt.Errorf("%w: %s", ErrUnknownConnection, c.from)}
	}
	if !h.members.inRoom(c.from, c.room) {
		return relayResult{err: fmt.Errorf("%w: %s", ErrNotMember, c.room)}
	}

	delivered, dropped := 0, 0
	for _, id := range h.members.membersOf(c.room) {
		if id == c.from {
			continue
		}
		if h.peers[id].Send(c.frame) {
			delivered++
		} else {
			dropped++
		}
	}

	h.metrics.EventsDispatched.WithLabelValues(messageKind, "relay").Inc()
	h.metrics.FramesDelivered.Add(float64(delivered))
	h.metrics.FramesDropped.Add(float64(dropped))

	slog.Debug("Message relayed", "conn_id", c.from, "room", c.room.String(), "delivered", delivered, "dropped", dropped)
	return relayResult{delivered: delivered}
}
