package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lobbyChat = `{"type":"chat","id":1,"sender":"A","text":"hi","timestamp":100}`

type recordingRelay struct {
	mu    sync.Mutex
	rooms []string
}

func (r *recordingRelay) Publish(_ context.Context, room string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room)
	return nil
}

func (r *recordingRelay) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rooms...)
}

func TestRouterChatReachesPeersButNotSender(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "lobby")

	router.Handle(testContext(t), a, []byte(lobbyChat))

	got := mustPayload(t, b)
	assert.Equal(t, map[string]any{
		"type":      "chat",
		"id":        float64(1),
		"sender":    "A",
		"text":      "hi",
		"timestamp": float64(100),
		"roomId":    "lobby",
	}, got)
	expectSilent(t, b)
	expectSilent(t, a)
	assert.Equal(t, Stats{Delivered: 1}, router.Stats())
}

func TestRouterChatWithoutJoinIsDropped(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	idle := NewConn("idle", "", 8)
	idle.markIdle()
	peer := newJoinedConn(t, router, "peer", "lobby")

	router.Handle(testContext(t), idle, []byte(lobbyChat))

	expectSilent(t, peer)
	expectSilent(t, idle)
	assert.Equal(t, Stats{}, router.Stats())
}

func TestRouterChatIntoVanishedRoomIsDropped(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	reg.Leave(a, "lobby")
	require.False(t, reg.Has("lobby"))

	router.Handle(testContext(t), a, []byte(lobbyChat))

	expectSilent(t, a)
	assert.Equal(t, Stats{}, router.Stats())
}

func TestRouterRoomsAreIsolated(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "arena")

	router.Handle(testContext(t), a, []byte(lobbyChat))

	expectSilent(t, b)
}

func TestRouterRejoinLeavesPreviousRoom(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "lobby")

	router.Handle(testContext(t), a, []byte(`{"type":"join","roomId":"arena"}`))

	assert.Equal(t, []*Conn{b}, reg.Members("lobby"))
	assert.Equal(t, []*Conn{a}, reg.Members("arena"))

	router.Handle(testContext(t), b, []byte(lobbyChat))
	expectSilent(t, a)

	router.Handle(testContext(t), b, []byte(`{"type":"join","roomId":"arena"}`))
	assert.False(t, reg.Has("lobby"))
	assert.Equal(t, 2, reg.Size("arena"))
}

func TestRouterRejoinSameRoomIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	router.Handle(testContext(t), a, []byte(`{"type":"join","roomId":"lobby"}`))

	assert.Equal(t, 1, reg.Size("lobby"))
}

func TestRouterSwallowsMalformedAndUnknown(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "lobby")

	for _, raw := range []string{`not json`, `{"type":"typing"}`, `{"type":"join"}`, `{}`} {
		router.Handle(testContext(t), a, []byte(raw))
	}

	expectSilent(t, b)
	room, ok := a.Room()
	assert.True(t, ok)
	assert.Equal(t, "lobby", room)
	assert.True(t, a.Open())
}

func TestRouterSkipsClosedMembers(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "lobby")
	b.Close()

	router.Handle(testContext(t), a, []byte(lobbyChat))

	expectSilent(t, b)
	assert.Equal(t, Stats{}, router.Stats())
}

func TestRouterOverflowDropKeepsConnection(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	slow := NewConn("slow", "", 1)
	slow.markIdle()
	router.Handle(testContext(t), slow, []byte(`{"type":"join","roomId":"lobby"}`))

	router.Handle(testContext(t), a, []byte(lobbyChat))
	router.Handle(testContext(t), a, []byte(lobbyChat))

	assert.True(t, slow.Open())
	assert.Len(t, slow.Outbound(), 1)
	assert.Equal(t, Stats{Delivered: 1, Dropped: 1}, router.Stats())
}

func TestRouterOverflowDisconnectClosesSlowConsumer(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil, WithOverflowPolicy(OverflowDisconnect))

	a := newJoinedConn(t, router, "a", "lobby")
	slow := NewConn("slow", "", 1)
	slow.markIdle()
	router.Handle(testContext(t), slow, []byte(`{"type":"join","roomId":"lobby"}`))

	router.Handle(testContext(t), a, []byte(lobbyChat))
	router.Handle(testContext(t), a, []byte(lobbyChat))

	assert.False(t, slow.Open())
}

func TestRouterPublishesToRelay(t *testing.T) {
	reg := NewRegistry()
	relay := &recordingRelay{}
	router := NewRouter(reg, nil, WithRelay(relay))

	go router.RunRelay(testContext(t))

	a := newJoinedConn(t, router, "a", "lobby")
	router.Handle(testContext(t), a, []byte(lobbyChat))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"lobby"}, relay.published())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouterRelayQueueOverflowDoesNotBlock(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil, WithRelay(&recordingRelay{}))

	a := newJoinedConn(t, router, "a", "lobby")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for j := 0; j < relayQueueSize+10; j++ {
			router.Handle(testContext(t), a, []byte(lobbyChat))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chat handling blocked on an undrained relay queue")
	}
}

func TestRouterBroadcastWithoutSender(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)

	a := newJoinedConn(t, router, "a", "lobby")
	b := newJoinedConn(t, router, "b", "lobby")

	n := router.Broadcast("lobby", []byte(`{"type":"chat","roomId":"lobby"}`), nil)

	assert.Equal(t, 2, n)
	mustPayload(t, a)
	mustPayload(t, b)
}
