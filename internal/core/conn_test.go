package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnStateMachine(t *testing.T) {
	c := NewConn("a", "127.0.0.1:1", 2)
	assert.Equal(t, StateConnecting, c.State())

	require.True(t, c.markIdle())
	assert.False(t, c.markIdle())
	assert.Equal(t, StateIdle, c.State())

	prev, ok := c.setRoom("lobby")
	require.True(t, ok)
	assert.Empty(t, prev)
	assert.Equal(t, StateJoined, c.State())

	room, joined := c.Room()
	assert.True(t, joined)
	assert.Equal(t, "lobby", room)

	c.Close()
	c.Close()
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.Open())

	_, ok = c.setRoom("arena")
	assert.False(t, ok)
}

func TestConnEnqueueIsBounded(t *testing.T) {
	c := NewConn("a", "", 2)

	assert.True(t, c.Enqueue([]byte("1")))
	assert.True(t, c.Enqueue([]byte("2")))
	assert.False(t, c.Enqueue([]byte("3")))
	assert.Len(t, c.Outbound(), 2)
}

func TestConnEnqueueAfterClose(t *testing.T) {
	c := NewConn("a", "", 2)
	c.Close()

	assert.False(t, c.Enqueue([]byte("x")))
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
