package core

import "sync"

// State is a step in a connection's lifecycle.
type State int

const (
	// StateConnecting is a transport session not yet registered with the hub.
	StateConnecting State = iota
	// StateIdle is a registered connection that has not joined a room.
	StateIdle
	// StateJoined is a connection that belongs to exactly one room.
	StateJoined
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one client session as seen by the core layer.
type Conn struct {
	ID     string
	Remote string

	mu    sync.Mutex
	state State
	room  string
	send  chan []byte
	done  chan struct{}
}

// NewConn constructs a connection with a bounded outbound queue.
func NewConn(id, remote string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Conn{
		ID:     id,
		Remote: remote,
		state:  StateConnecting,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the room the connection currently belongs to.
func (c *Conn) Room() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.room != ""
}

// Open reports whether the connection still accepts outbound payloads.
func (c *Conn) Open() bool {
	return c.State() != StateClosed
}

// Enqueue pushes a payload onto the outbound queue without blocking.
// Returns false if the connection is closed or its queue is full.
func (c *Conn) Enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound is drained by the transport writer.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection reaches StateClosed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close moves the connection to StateClosed. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	close(c.done)
}

func (c *Conn) markIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateIdle
	return true
}

// setRoom records room membership and returns the previous room, if any.
func (c *Conn) setRoom(room string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	if c.state == StateClosed {
		return prev, false
	}
	c.room = room
	c.state = StateJoined
	return prev, true
}
