package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakePeer records frames instead of writing them to a socket.
type fakePeer struct {
	mu          sync.Mutex
	frames      [][]byte
	full        bool
	closed      bool
	closeReason string
}

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeReason = reason
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.full = full
}

func (p *fakePeer) events(t *testing.T) []domain.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]domain.Event, 0, len(p.frames))
	for _, f := range p.frames {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		events = append(events, ev)
	}
	return events
}

func (p *fakePeer) isClosed() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.closeReason
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *metrics.RealtimeMetrics) {
	t.Helper()
	m := metrics.NewRealtimeMetrics(prometheus.NewRegistry())
	hub := NewHub(clockwork.NewFakeClockAt(fixedNow), m, opts...)
	t.Cleanup(hub.Stop)
	return hub, m
}

func register(t *testing.T, hub *Hub) (ConnID, *fakePeer) {
	t.Helper()
	peer := &fakePeer{}
	id, err := hub.Register(peer)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id, peer
}

func likePayload(postID uuid.UUID, count int) domain.LikePayload {
	return domain.LikePayload{PostID: postID, UserID: uuid.New(), LikeCount: count}
}

func TestHub_RegisterAssignsUniqueIDs(t *testing.T) {
	hub, m := newTestHub(t)

	a, _ := register(t, hub)
	b, _ := register(t, hub)

	assert.NotEqual(t, a, b)
	assert.Equal(t, Stats{Connections: 2, Rooms: 0}, hub.Stats())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Empty(t, hub.RoomsOf(a))
}

func TestHub_JoinIsBidirectional(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)

	require.NoError(t, hub.Join(id, "post:42"))

	assert.Contains(t, hub.MembersOf("post:42"), id)
	assert.Contains(t, hub.RoomsOf(id), domain.Room("post:42"))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)

	require.NoError(t, hub.Join(id, "post:42"))
	require.NoError(t, hub.Join(id, "post:42"))

	assert.Len(t, hub.MembersOf("post:42"), 1)
	assert.Len(t, hub.RoomsOf(id), 1)
}

func TestHub_JoinUnknownConnection(t *testing.T) {
	hub, _ := newTestHub(t)

	err := hub.Join("nope", "post:1")

	require.ErrorIs(t, err, ErrUnknownConnection)
	assert.Empty(t, hub.MembersOf("post:1"))
}

func TestHub_JoinGlobalRoomRejected(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)

	err := hub.Join(id, domain.GlobalRoom)

	require.ErrorIs(t, err, domain.ErrInvalidRoom)
	assert.Equal(t, 0, hub.Stats().Rooms)
}

func TestHub_JoinMalformedRoomRejected(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)

	for _, room := range []domain.Room{"garbage", "post:", ":42"} {
		require.ErrorIs(t, hub.Join(id, room), domain.ErrInvalidRoom, "room %q", room)
		assert.Empty(t, hub.MembersOf(room))
	}
	assert.Empty(t, hub.RoomsOf(id))
	assert.Equal(t, 0, hub.Stats().Rooms)
}

func TestHub_LeaveNeverJoinedIsNoop(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)

	require.NoError(t, hub.Leave(id, "post:7"))
	assert.Empty(t, hub.RoomsOf(id))
}

func TestHub_LeaveRemovesEmptyRoom(t *testing.T) {
	hub, m := newTestHub(t)
	id, _ := register(t, hub)
	require.NoError(t, hub.Join(id, "post:42"))
	require.Equal(t, 1, hub.Stats().Rooms)

	require.NoError(t, hub.Leave(id, "post:42"))

	assert.Equal(t, 0, hub.Stats().Rooms)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRooms))
}

// Scenario: a connection in several rooms disconnects and is removed from all of them.
func TestHub_UnregisterLeavesEveryRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	id, peer := register(t, hub)
	for _, r := range []domain.Room{"post:1", "post:2", "post:3"} {
		require.NoError(t, hub.Join(id, r))
	}

	hub.Unregister(id)

	for _, r := range []domain.Room{"post:1", "post:2", "post:3"} {
		assert.NotContains(t, hub.MembersOf(r), id)
	}
	assert.Empty(t, hub.RoomsOf(id))
	assert.Equal(t, Stats{}, hub.Stats())

	closed, reason := peer.isClosed()
	assert.True(t, closed)
	assert.Empty(t, reason)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)
	id, _ := register(t, hub)
	other, _ := register(t, hub)

	hub.Unregister(id)
	hub.Unregister(id)
	hub.Unregister("never-registered")

	assert.Equal(t, 1, hub.Stats().Connections)
	require.NoError(t, hub.Join(other, "post:1"))
}

// Scenario: a like reaches members of the post room only.
func TestHub_RoomEventReachesMembersOnly(t *testing.T) {
	hub, _ := newTestHub(t)
	postID := uuid.New()
	room := domain.PostRoom(postID)

	a, peerA := register(t, hub)
	b, peerB := register(t, hub)
	_, peerC := register(t, hub)
	require.NoError(t, hub.Join(a, room))
	require.NoError(t, hub.Join(b, room))

	n, err := hub.Notify(context.Background(), domain.KindPostLiked, likePayload(postID, 3), room)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, p := range []*fakePeer{peerA, peerB} {
		events := p.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, domain.KindPostLiked, events[0].Kind)

		var got domain.LikePayload
		require.NoError(t, events[0].Decode(&got))
		assert.Equal(t, postID, got.PostID)
		assert.Equal(t, 3, got.LikeCount)
	}
	assert.Empty(t, peerC.events(t))
}

// Scenario: a global event reaches every connection regardless of membership.
func TestHub_GlobalEventReachesEveryConnection(t *testing.T) {
	hub, m := newTestHub(t)
	a, peerA := register(t, hub)
	_, peerB := register(t, hub)
	require.NoError(t, hub.Join(a, "post:9"))

	n, err := hub.Notify(context.Background(), domain.KindNewPost, domain.PostCreatedPayload{Message: "hi"}, domain.GlobalRoom)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, peerA.events(t), 1)
	assert.Len(t, peerB.events(t), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDispatched.WithLabelValues("new_post", "global")))
}

// Scenario: dispatch to a room nobody joined delivers nothing and is not an error.
func TestHub_DispatchToEmptyRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	_, peer := register(t, hub)

	n, err := hub.Notify(context.Background(), domain.KindNewComment, domain.CommentPayload{}, "post:404")

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, peer.events(t))
	assert.Equal(t, 0, hub.Stats().Rooms, "dispatch must not create rooms")
}

// Scenario: after a connection leaves, later room events no longer reach it.
func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub, _ := newTestHub(t)
	a, peerA := register(t, hub)
	b, peerB := register(t, hub)
	require.NoError(t, hub.Join(a, "post:5"))
	require.NoError(t, hub.Join(b, "post:5"))

	_, err := hub.Notify(context.Background(), domain.KindPostLiked, likePayload(uuid.New(), 1), "post:5")
	require.NoError(t, err)
	require.NoError(t, hub.Leave(a, "post:5"))
	_, err = hub.Notify(context.Background(), domain.KindPostUnliked, likePayload(uuid.New(), 0), "post:5")
	require.NoError(t, err)

	assert.Len(t, peerA.events(t), 1)
	assert.Len(t, peerB.events(t), 2)
}

func TestHub_PreservesDispatchOrder(t *testing.T) {
	hub, _ := newTestHub(t)
	id, peer := register(t, hub)
	require.NoError(t, hub.Join(id, "post:1"))

	for i := range 10 {
		_, err := hub.Notify(context.Background(), domain.KindPostLiked, domain.LikePayload{LikeCount: i}, "post:1")
		require.NoError(t, err)
	}

	events := peer.events(t)
	require.Len(t, events, 10)
	for i, ev := range events {
		var p domain.LikePayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, i, p.LikeCount)
	}
}

func TestHub_FullPeerIsSkipped(t *testing.T) {
	hub, m := newTestHub(t)
	a, slow := register(t, hub)
	b, fast := register(t, hub)
	require.NoError(t, hub.Join(a, "post:1"))
	require.NoError(t, hub.Join(b, "post:1"))
	slow.setFull(true)

	n, err := hub.Notify(context.Background(), domain.KindNewComment, domain.CommentPayload{}, "post:1")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, slow.events(t))
	assert.Len(t, fast.events(t), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDelivered))

	// A dropped frame does not evict the connection.
	assert.Contains(t, hub.MembersOf("post:1"), a)
}

func TestHub_NotifyRejectsMalformedEvents(t *testing.T) {
	hub, _ := newTestHub(t)
	id, peer := register(t, hub)
	require.NoError(t, hub.Join(id, "post:1"))

	_, err := hub.Notify(context.Background(), "post_shared", map[string]any{"x": 1}, "post:1")
	require.ErrorIs(t, err, domain.ErrMalformedEvent)

	_, err = hub.Notify(context.Background(), domain.KindPostLiked, []int{1, 2}, "post:1")
	require.ErrorIs(t, err, domain.ErrMalformedEvent)

	_, err = hub.Dispatch(context.Background(), domain.Event{Kind: domain.KindPostLiked, Payload: json.RawMessage(`"nope"`)}, "post:1")
	require.ErrorIs(t, err, domain.ErrMalformedEvent)

	assert.Empty(t, peer.events(t))
}

func TestHub_NotifyStampsHubClock(t *testing.T) {
	hub, _ := newTestHub(t)
	_, peer := register(t, hub)

	_, err := hub.Notify(context.Background(), domain.KindPostDeleted, domain.PostDeletedPayload{PostID: uuid.New()}, domain.GlobalRoom)
	require.NoError(t, err)

	events := peer.events(t)
	require.Len(t, events, 1)
	assert.True(t, fixedNow.Equal(events[0].Timestamp))
}

func TestHub_DispatchHonoursCancelledContext(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the submit or the wait observes the cancellation, or the hub
	// answers first. The call must never hang.
	_, err := hub.Notify(ctx, domain.KindNewPost, domain.PostCreatedPayload{}, domain.GlobalRoom)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestHub_MaxConnections(t *testing.T) {
	hub, _ := newTestHub(t, WithMaxConnections(2))
	register(t, hub)
	register(t, hub)

	_, err := hub.Register(&fakePeer{})

	require.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, 2, hub.Stats().Connections)
}

func TestHub_StopClosesConnectionsWithReason(t *testing.T) {
	hub, m := newTestHub(t)
	a, peerA := register(t, hub)
	_, peerB := register(t, hub)
	require.NoError(t, hub.Join(a, "post:1"))

	hub.Stop()

	for _, p := range []*fakePeer{peerA, peerB} {
		closed, reason := p.isClosed()
		assert.True(t, closed)
		assert.Equal(t, "server shutting down", reason)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))

	_, err := hub.Register(&fakePeer{})
	require.ErrorIs(t, err, ErrHubStopped)
	_, err = hub.Notify(context.Background(), domain.KindNewPost, domain.PostCreatedPayload{}, domain.GlobalRoom)
	require.ErrorIs(t, err, ErrHubStopped)
	assert.Equal(t, Stats{Connections: -1, Rooms: -1}, hub.Stats())

	hub.Stop()
}

func TestHub_ConcurrentJoinAndDispatch(t *testing.T) {
	hub, _ := newTestHub(t)

	const workers = 20
	peers := make([]*fakePeer, workers)
	var wg sync.WaitGroup
	for i := range workers {
		id, p := register(t, hub)
		peers[i] = p
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Join(id, "post:hot"))
			_, err := hub.Notify(context.Background(), domain.KindPostLiked, domain.LikePayload{}, "post:hot")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, hub.MembersOf("post:hot"), workers)
	total := 0
	for _, p := range peers {
		total += len(p.events(t))
	}
	// Dispatch i reaches everyone who joined before it; at least the last
	// dispatch reaches its own sender.
	assert.GreaterOrEqual(t, total, workers)
}
