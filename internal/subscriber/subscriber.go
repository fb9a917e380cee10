// Package subscriber is the client side of the real-time channel. It keeps one
// WebSocket open, re-joins its rooms after a reconnect and routes incoming
// events to listeners registered per kind.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/retry"
)

const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	writeTimeout      = 5 * time.Second
)

var (
	ErrClosed           = errors.New("subscriber closed")
	ErrAlreadyConnected = errors.New("subscriber already connected")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	URL        string
	Header     http.Header
	MaxRetries int
	Backoff    time.Duration
	Dialer     *websocket.Dialer
	Clock      clockwork.Clock
	Logger     *slog.Logger
	// OnStateChange runs synchronously on every transition. It must not call
	// Join, Leave, Connect or Close.
	OnStateChange func(State)
}

type Listener func(domain.Event)

type listenerEntry struct {
	id int
	fn Listener
}

type outboundFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

type Subscriber struct {
	opts   Options
	logger *slog.Logger
	state  atomic.Int32

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// mu guards conn, rooms and closed, and serialises writes to conn.
	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[domain.Room]struct{}
	closed bool

	listenersMu sync.Mutex
	listeners   map[domain.EventKind][]listenerEntry
	nextID      int

	// emitting is set while the read loop runs listeners. Close must not
	// wait for a read loop that is calling it.
	emitting atomic.Bool
}

func New(opts Options) *Subscriber {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		opts:      opts,
		logger:    logger.With("url", opts.URL),
		lifetime:  ctx,
		cancel:    cancel,
		rooms:     make(map[domain.Room]struct{}),
		listeners: make(map[domain.EventKind][]listenerEntry),
	}
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Debug("Subscriber state changed", "from", prev.String(), "to", next.String())
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
}

// Connect dials the server and joins every tracked room.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.State() != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setState(Connecting)
	s.mu.Unlock()

	conn, err := s.dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setState(Disconnected)
		return err
	}
	if s.closed {
		_ = conn.Close()
		return ErrClosed
	}
	s.attachLocked(conn)
	s.logger.Info("Subscriber connected")
	return nil
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	return conn, nil
}

// attachLocked installs conn, re-joins tracked rooms and starts the reader.
func (s *Subscriber) attachLocked(conn *websocket.Conn) {
	s.conn = conn
	s.setState(Connected)

	for room := range s.rooms {
		if err := s.sendLocked(outboundFrame{Action: "join", Room: string(room)}); err != nil {
			s.logger.Warn("Re-join failed", "room", room.String(), "error", err)
		}
	}

	s.wg.Add(1)
	go s.readLoop(conn)
}

func (s *Subscriber) sendLocked(frame outboundFrame) error {
	if s.conn == nil {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s %s: %w", frame.Action, frame.Room, err)
	}
	return nil
}

// Join tracks room and, when connected, asks the server to join it. Tracked
// rooms survive reconnects.
func (s *Subscriber) Join(room domain.Room) error {
	if _, err := domain.ParseRoom(string(room)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rooms[room] = struct{}{}
	return s.sendLocked(outboundFrame{Action: "join", Room: string(room)})
}

func (s *Subscriber) Leave(room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.rooms[room]; !ok {
		return nil
	}
	delete(s.rooms, room)
	return s.sendLocked(outboundFrame{Action: "leave", Room: string(room)})
}

// Rooms returns the tracked rooms.
func (s *Subscriber) Rooms() []domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]domain.Room, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms
}

// On registers fn for events of kind. The returned function removes it and
// may be called more than once.
func (s *Subscriber) On(kind domain.EventKind, fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	// Copy on write: emit iterates a snapshot without holding the lock.
	s.listeners[kind] = append(slices.Clip(s.listeners[kind]), listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			s.listeners[kind] = slices.DeleteFunc(slices.Clone(s.listeners[kind]), func(e listenerEntry) bool {
				return e.id == id
			})
			if len(s.listeners[kind]) == 0 {
				delete(s.listeners, kind)
			}
		})
	}
}

func (s *Subscriber) emit(ev domain.Event) {
	s.listenersMu.Lock()
	snapshot := s.listeners[ev.Kind]
	s.listenersMu.Unlock()

	for _, entry := range snapshot {
		s.invoke(entry.fn, ev)
	}
}

func (s *Subscriber) invoke(fn Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Listener panic recovered", "kind", ev.Kind, "panic", r)
		}
	}()
	fn(ev)
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(conn, err)
			return
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("Ignoring undecodable frame", "error", err)
			continue
		}
		if err := ev.Validate(); err != nil {
			s.logger.Debug("Ignoring malformed event", "error", err)
			continue
		}
		s.emitting.Store(true)
		s.emit(ev)
		s.emitting.Store(false)
		if s.lifetime.Err() != nil {
			return
		}
	}
}

func (s *Subscriber) handleDrop(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	_ = conn.Close()
	s.setState(Reconnecting)
	s.mu.Unlock()

	s.logger.Warn("Connection lost, reconnecting", "error", cause, "max_retries", s.opts.MaxRetries)
	s.reconnect()
}

func (s *Subscriber) reconnect() {
	clock := s.opts.Clock

	wait := clock.NewTimer(s.opts.Backoff)
	select {
	case <-wait.Chan():
	case <-s.lifetime.Done():
		wait.Stop()
		return
	}

	policy := retry.Fixed(s.opts.MaxRetries, s.opts.Backoff, clock)
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.logger.Debug("Reconnect attempt failed", "attempt", attempt, "backoff", backoff, "error", err)
	}
	conn, err := retry.Do[*websocket.Conn](s.lifetime, policy, retry.Always, s.dial)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.closed {
			s.logger.Error("Giving up reconnecting", "error", err)
			s.setState(Disconnected)
		}
		return
	}
	if s.closed {
		_ = conn.Close()
		return
	}
	s.attachLocked(conn)
	s.logger.Info("Subscriber reconnected", "rooms", len(s.rooms))
}

// Close disconnects and stops reconnecting. The subscriber cannot be reused.
// Called from a listener, it returns without waiting for the read loop,
// which exits once the listener returns.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.cancel()

	var err error
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	}
	s.setState(Disconnected)
	s.mu.Unlock()

	if !s.emitting.Load() {
		s.wg.Wait()
	}
	return err
}
