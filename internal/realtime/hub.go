package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/domain"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	commandBufferSize   = 256
	depthSampleInterval = 1 * time.Second
)

var (
	ErrHubStopped         = errors.New("hub stopped")
	ErrCommandTimeout     = errors.New("hub command timed out")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrTooManyConnections = errors.New("connection limit reached")
)

// ConnID identifies one registered connection for its lifetime.
type ConnID string

// Peer is the hub's view of a connection. Send must not block: it returns
// false when the frame cannot be queued. Close releases the transport.
type Peer interface {
	Send(frame []byte) bool
	Close(reason string)
}

// Stats is a size probe of the registry and membership index.
type Stats struct {
	Connections int
	Rooms       int
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerResult struct {
	id  ConnID
	err error
}

type registerCmd struct {
	baseHubCmd
	peer  Peer
	reply chan registerResult
}

type unregisterCmd struct {
	baseHubCmd
	id ConnID
}

type joinCmd struct {
	baseHubCmd
	id    ConnID
	room  domain.Room
	reply chan error
}

type leaveCmd struct {
	baseHubCmd
	id    ConnID
	room  domain.Room
	reply chan error
}

type membersCmd struct {
	baseHubCmd
	room  domain.Room
	reply chan []ConnID
}

type roomsCmd struct {
	baseHubCmd
	id    ConnID
	reply chan []domain.Room
}

type statsCmd struct {
	baseHubCmd
	reply chan Stats
}

type dispatchCmd struct {
	baseHubCmd
	kind  domain.EventKind
	frame []byte
	room  domain.Room
	reply chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the connection registry, room membership manager and fan-out
// dispatcher. All state lives on the run goroutine.
type Hub struct {
	cmdCh          chan hubCmd
	clock          clockwork.Clock
	metrics        *metrics.RealtimeMetrics
	peers          map[ConnID]Peer
	members        *membership
	maxConnections int
	stopTimeout    time.Duration
	stopOnce       sync.Once
	done           chan struct{}
}

type Option func(*Hub)

// WithMaxConnections caps registered connections. Zero means unlimited.
func WithMaxConnections(n int) Option {
	return func(h *Hub) { h.maxConnections = n }
}

func WithStopTimeout(d time.Duration) Option {
	return func(h *Hub) { h.stopTimeout = d }
}

func NewHub(clock clockwork.Clock, m *metrics.RealtimeMetrics, opts ...Option) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, commandBufferSize),
		clock:       clock,
		metrics:     m,
		peers:       make(map[ConnID]Peer),
		members:     newMembership(),
		stopTimeout: stopTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run()
	return h
}

// Register adds a connection with no room memberships.
func (h *Hub) Register(peer Peer) (ConnID, error) {
	reply := make(chan registerResult, 1)
	res, err := call(context.Background(), h, registerCmd{peer: peer, reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return res.id, res.err
}

// Unregister removes the connection from the registry and from every room it
// joined. Unknown ids are ignored. Commands are processed in order, so a
// dispatch issued after Unregister returns never reaches the connection.
func (h *Hub) Unregister(id ConnID) {
	_ = h.submit(context.Background(), unregisterCmd{id: id})
}

// Join is idempotent. Keys that are not "<type>:<id>" are rejected, which
// includes the global room since every connection already receives it.
func (h *Hub) Join(id ConnID, room domain.Room) error {
	if _, err := domain.ParseRoom(string(room)); err != nil {
		return err
	}
	reply := make(chan error, 1)
	err, callErr := call(context.Background(), h, joinCmd{id: id, room: room, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Leave removes id from room. Leaving a room that was never joined is a no-op.
func (h *Hub) Leave(id ConnID, room domain.Room) error {
	reply := make(chan error, 1)
	err, callErr := call(context.Background(), h, leaveCmd{id: id, room: room, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// MembersOf returns the current members of room, empty for unknown rooms.
func (h *Hub) MembersOf(room domain.Room) []ConnID {
	reply := make(chan []ConnID, 1)
	members, err := call(context.Background(), h, membersCmd{room: room, reply: reply}, reply)
	if err != nil {
		slog.Warn("MembersOf failed", "room", room.String(), "error", err)
		return []ConnID{}
	}
	return members
}

// RoomsOf returns the rooms id has joined.
func (h *Hub) RoomsOf(id ConnID) []domain.Room {
	reply := make(chan []domain.Room, 1)
	rooms, err := call(context.Background(), h, roomsCmd{id: id, reply: reply}, reply)
	if err != nil {
		slog.Warn("RoomsOf failed", "conn_id", id, "error", err)
		return []domain.Room{}
	}
	return rooms
}

// Stats returns -1 counts if the hub does not answer.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	stats, err := call(context.Background(), h, statsCmd{reply: reply}, reply)
	if err != nil {
		slog.Warn("Stats failed", "error", err)
		return Stats{Connections: -1, Rooms: -1}
	}
	return stats
}

// Dispatch serialises ev once and queues it on every member of room, or on
// every connection when room is global. It returns how many connections
// accepted the frame. Connections that cannot accept it are skipped.
func (h *Hub) Dispatch(ctx context.Context, ev domain.Event, room domain.Room) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("%w: encode envelope: %v", domain.ErrMalformedEvent, err)
	}

	reply := make(chan int, 1)
	return call(ctx, h, dispatchCmd{kind: ev.Kind, frame: frame, room: room, reply: reply}, reply)
}

// Notify builds an event stamped with the hub clock and dispatches it.
func (h *Hub) Notify(ctx context.Context, kind domain.EventKind, payload any, room domain.Room) (int, error) {
	ev, err := domain.NewEvent(kind, payload, h.clock.Now())
	if err != nil {
		return 0, err
	}
	return h.Dispatch(ctx, ev, room)
}

// Stop closes every connection with a close frame and waits for the hub
// goroutine to exit, bounded by the stop timeout.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		select {
		case h.cmdCh <- stopCmd{}:
		case <-h.done:
			return
		}

		timeout := h.clock.NewTimer(h.stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Hub stop timeout exceeded", "timeout", h.stopTimeout)
		}
	})
}

func (h *Hub) submit(ctx context.Context, cmd hubCmd) error {
	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return fmt.Errorf("submit hub command: %w", ctx.Err())
	}
}

func call[T any](ctx context.Context, h *Hub, cmd hubCmd, reply chan T) (T, error) {
	var zero T
	if err := h.submit(ctx, cmd); err != nil {
		return zero, err
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-timer.Chan():
		return zero, fmt.Errorf("%w after %v", ErrCommandTimeout, commandTimeout)
	case <-h.done:
		return zero, ErrHubStopped
	case <-ctx.Done():
		return zero, fmt.Errorf("await hub reply: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.metrics.HubPanics.Inc()
			h.closeAll("server error")
		}
	}()

	depthTicker := h.clock.NewTicker(depthSampleInterval)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			h.metrics.CommandQueueDepth.Set(float64(depth))
			if depth > commandBufferSize*4/5 {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.reply <- h.handleRegister(c.peer)
			case unregisterCmd:
				h.handleUnregister(c.id)
			case joinCmd:
				c.reply <- h.handleJoin(c.id, c.room)
			case leaveCmd:
				c.reply <- h.handleLeave(c.id, c.room)
			case membersCmd:
				c.reply <- h.members.membersOf(c.room)
			case roomsCmd:
				c.reply <- h.members.roomsOf(c.id)
			case statsCmd:
				c.reply <- Stats{Connections: h.members.connCount(), Rooms: h.members.roomCount()}
			case dispatchCmd:
				c.reply <- h.handleDispatch(c)
			case relayCmd:
				c.reply <- h.handleRelay(c)
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(peer Peer) registerResult {
	if h.maxConnections > 0 && len(h.peers) >= h.maxConnections {
		slog.Warn("Rejecting connection: limit reached", "max_connections", h.maxConnections)
		return registerResult{err: fmt.Errorf("%w (%d)", ErrTooManyConnections, h.maxConnections)}
	}

	id := ConnID(uuid.NewString())
	h.peers[id] = peer
	h.members.add(id)
	h.metrics.ActiveConnections.Set(float64(len(h.peers)))

	slog.Debug("Connection registered", "conn_id", id, "total_connections", len(h.peers))
	return registerResult{id: id}
}

func (h *Hub) handleUnregister(id ConnID) {
	peer, ok := h.peers[id]
	if !ok {
		return
	}

	left := h.members.leaveAll(id)
	delete(h.peers, id)
	peer.Close("")

	h.metrics.ActiveConnections.Set(float64(len(h.peers)))
	h.metrics.ActiveRooms.Set(float64(h.members.roomCount()))

	slog.Debug("Connection unregistered", "conn_id", id, "rooms_left", len(left), "remaining_connections", len(h.peers))
}

func (h *Hub) handleJoin(id ConnID, room domain.Room) error {
	if !h.members.has(id) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if h.members.join(id, room) {
		h.metrics.ActiveRooms.Set(float64(h.members.roomCount()))
		slog.Debug("Joined room", "conn_id", id, "room", room.String())
	}
	return nil
}

func (h *Hub) handleLeave(id ConnID, room domain.Room) error {
	if !h.members.has(id) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	if h.members.leave(id, room) {
		h.metrics.ActiveRooms.Set(float64(h.members.roomCount()))
		slog.Debug("Left room", "conn_id", id, "room", room.String())
	}
	return nil
}

func (h *Hub) handleDispatch(c dispatchCmd) int {
	scope := "room"
	targets := h.members.membersOf(c.room)
	if c.room.IsGlobal() {
		scope = "global"
		targets = h.members.all()
	}

	delivered, dropped := 0, 0
	for _, id := range targets {
		if h.peers[id].Send(c.frame) {
			delivered++
		} else {
			dropped++
		}
	}

	h.metrics.EventsDispatched.WithLabelValues(string(c.kind), scope).Inc()
	h.metrics.FramesDelivered.Add(float64(delivered))
	h.metrics.FramesDropped.Add(float64(dropped))

	if dropped > 0 {
		slog.Warn("Dropped event for unwritable connections", "kind", c.kind, "room", c.room.String(), "dropped", dropped)
	}
	slog.Debug("Event dispatched", "kind", c.kind, "room", c.room.String(), "delivered", delivered)
	return delivered
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "connections", len(h.peers), "rooms", h.members.roomCount())
	h.closeAll("server shutting down")
}

// closeAll closes every connection with a close frame carrying reason.
func (h *Hub) closeAll(reason string) {
	for id, peer := range h.peers {
		h.members.leaveAll(id)
		delete(h.peers, id)
		peer.Close(reason)
	}
	h.metrics.ActiveConnections.Set(0)
	h.metrics.ActiveRooms.Set(0)
}
