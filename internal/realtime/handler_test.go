package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler serves a Handler over httptest. WebSocket deadlines need the
// real clock.
func testHandler(t *testing.T, opts ...Option) (*Hub, func() *ws.Conn) {
	t.Helper()

	clock := clockwork.NewRealClock()
	hub := NewHub(clock, metrics.NewRealtimeMetrics(prometheus.NewRegistry()), opts...)
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(NewHandler(hub, clock, func(*http.Request) bool { return true }))
	t.Cleanup(server.Close)

	dial := func() *ws.Conn {
		t.Helper()
		conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	return hub, dial
}

func waitFor(cond func() bool) bool {
	for range 200 {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func sendFrame(t *testing.T, conn *ws.Conn, frame clientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *ws.Conn) domain.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func assertNoEvent(t *testing.T, conn *ws.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no frame")
}

func TestHandler_RoomEventReachesJoinedClients(t *testing.T) {
	hub, dial := testHandler(t)
	postID := uuid.New()
	room := domain.PostRoom(postID)

	c1, c2, c3 := dial(), dial(), dial()
	sendFrame(t, c1, clientFrame{Action: "join", Room: string(room)})
	sendFrame(t, c2, clientFrame{Action: "join", Room: string(room)})
	require.True(t, waitFor(func() bool { return len(hub.MembersOf(room)) == 2 }))

	n, err := hub.Notify(context.Background(), domain.KindPostLiked, domain.LikePayload{PostID: postID, LikeCount: 1}, room)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*ws.Conn{c1, c2} {
		ev := readEvent(t, c)
		assert.Equal(t, domain.KindPostLiked, ev.Kind)
		var p domain.LikePayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, postID, p.PostID)
	}
	assertNoEvent(t, c3)
}

func TestHandler_GlobalEventReachesAllClients(t *testing.T) {
	hub, dial := testHandler(t)
	c1, c2 := dial(), dial()
	require.True(t, waitFor(func() bool { return hub.Stats().Connections == 2 }))

	n, err := hub.Notify(context.Background(), domain.KindNewPost, domain.PostCreatedPayload{Message: "new"}, domain.GlobalRoom)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*ws.Conn{c1, c2} {
		assert.Equal(t, domain.KindNewPost, readEvent(t, c).Kind)
	}
}

func TestHandler_JoinPostAction(t *testing.T) {
	hub, dial := testHandler(t)
	postID := uuid.New()
	c := dial()

	sendFrame(t, c, clientFrame{Action: "join_post", PostID: postID.String()})
	require.True(t, waitFor(func() bool { return len(hub.MembersOf(domain.PostRoom(postID))) == 1 }))

	sendFrame(t, c, clientFrame{Action: "leave_post", PostID: postID.String()})
	require.True(t, waitFor(func() bool { return hub.Stats().Rooms == 0 }))
}

func TestHandler_LeaveStopsDelivery(t *testing.T) {
	hub, dial := testHandler(t)
	c := dial()

	sendFrame(t, c, clientFrame{Action: "join", Room: "post:5"})
	require.True(t, waitFor(func() bool { return len(hub.MembersOf("post:5")) == 1 }))
	sendFrame(t, c, clientFrame{Action: "leave", Room: "post:5"})
	require.True(t, waitFor(func() bool { return len(hub.MembersOf("post:5")) == 0 }))

	n, err := hub.Notify(context.Background(), domain.KindNewComment, domain.CommentPayload{}, "post:5")
	require.NoError(t, err)
	assert.Zero(t, n)
	assertNoEvent(t, c)
}

func TestHandler_MessageRelayedToOtherMembers(t *testing.T) {
	hub, dial := testHandler(t)
	sender, peer, outsider := dial(), dial(), dial()
	sendFrame(t, sender, clientFrame{Action: "join_room", Room: "post:8"})
	sendFrame(t, peer, clientFrame{Action: "join_room", Room: "post:8"})
	require.True(t, waitFor(func() bool { return len(hub.MembersOf("post:8")) == 2 }))

	sendFrame(t, sender, clientFrame{Action: "message", Room: "post:8", Payload: json.RawMessage(`{"text":"hi"}`)})

	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := peer.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "message", msg.Kind)
	assert.Equal(t, domain.Room("post:8"), msg.Room)
	assert.JSONEq(t, `{"text":"hi"}`, string(msg.Payload))

	assertNoEvent(t, sender)
	assertNoEvent(t, outsider)

	sendFrame(t, outsider, clientFrame{Action: "message", Room: "post:8", Payload: json.RawMessage(`{"text":"intruder"}`)})
	assertNoEvent(t, peer)
}

func TestHandler_DisconnectRemovesMembership(t *testing.T) {
	hub, dial := testHandler(t)
	c := dial()
	sendFrame(t, c, clientFrame{Action: "join", Room: "post:1"})
	sendFrame(t, c, clientFrame{Action: "join", Room: "post:2"})
	require.True(t, waitFor(func() bool { return hub.Stats().Rooms == 2 }))

	require.NoError(t, c.Close())

	require.True(t, waitFor(func() bool { return hub.Stats() == Stats{} }))
	n, err := hub.Notify(context.Background(), domain.KindNewPost, domain.PostCreatedPayload{}, domain.GlobalRoom)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandler_IgnoresInvalidFrames(t *testing.T) {
	hub, dial := testHandler(t)
	c := dial()

	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte("not json")))
	sendFrame(t, c, clientFrame{Action: "dance", Room: "post:1"})
	sendFrame(t, c, clientFrame{Action: "join", Room: "nocolon"})
	sendFrame(t, c, clientFrame{Action: "join", Room: ""})
	sendFrame(t, c, clientFrame{Action: "join", Room: "post:ok"})

	require.True(t, waitFor(func() bool { return len(hub.MembersOf("post:ok")) == 1 }))
	assert.Equal(t, 1, hub.Stats().Rooms)
}

func TestHandler_RejectsOverCapacity(t *testing.T) {
	hub, dial := testHandler(t, WithMaxConnections(1))
	dial()
	require.True(t, waitFor(func() bool { return hub.Stats().Connections == 1 }))

	second := dial()

	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := second.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, "server at capacity", closeErr.Text)
	assert.Equal(t, 1, hub.Stats().Connections)
}

func TestHandler_StopSendsCloseFrame(t *testing.T) {
	hub, dial := testHandler(t)
	c := dial()
	require.True(t, waitFor(func() bool { return hub.Stats().Connections == 1 }))

	hub.Stop()

	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := c.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, "server shutting down", closeErr.Text)
}
