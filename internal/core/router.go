package core

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

// OverflowPolicy decides what happens when a member's outbound queue is full.
type OverflowPolicy string

const (
	// OverflowDrop discards the payload for that member only.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowDisconnect closes the member's connection.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// relayQueueSize bounds chats waiting to be published to a Relay.
const relayQueueSize = 256

// Relay forwards chat payloads to other relay instances.
// Publish may block; it is only called from RunRelay.
type Relay interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Stats are cumulative fan-out counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Router decodes inbound envelopes and fans chat messages out to room members.
type Router struct {
	registry *Registry
	log      *zerolog.Logger
	overflow OverflowPolicy
	relay    Relay
	outbox   chan relayFrame

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type relayFrame struct {
	room    string
	payload []byte
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithOverflowPolicy sets the slow-consumer policy. Defaults to OverflowDrop.
func WithOverflowPolicy(p OverflowPolicy) RouterOption {
	return func(r *Router) {
		if p != "" {
			r.overflow = p
		}
	}
}

// WithRelay publishes every local chat to relay in addition to local fan-out.
func WithRelay(relay Relay) RouterOption {
	return func(r *Router) {
		r.relay = relay
		r.outbox = make(chan relayFrame, relayQueueSize)
	}
}

// NewRouter builds a router over registry.
func NewRouter(registry *Registry, logger *zerolog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Router{
		registry: registry,
		log:      logger,
		overflow: OverflowDrop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one inbound frame from c. Failures are logged, never returned.
func (r *Router) Handle(_ context.Context, c *Conn, raw []byte) {
	in, err := proto.Decode(raw)
	if err != nil {
		ev := r.log.Info()
		if errors.Is(err, proto.ErrMalformed) {
			ev = r.log.Warn()
		}
		ev.Err(err).Str("conn_id", c.ID).Msg("discarding envelope")
		return
	}

	switch in.Type {
	case proto.TypeJoin:
		r.join(c, in.RoomID)
	case proto.TypeChat:
		r.chat(c, in)
	default:
		r.log.Debug().Str("conn_id", c.ID).Str("type", in.Type).Msg("ignoring unknown envelope type")
	}
}

func (r *Router) join(c *Conn, room string) {
	prev, ok := c.setRoom(room)
	if !ok {
		return
	}
	if prev != "" && prev != room {
		r.registry.Leave(c, prev)
		r.log.Debug().Str("conn_id", c.ID).Str("room", prev).Msg("left room")
	}
	if r.registry.Join(c, room) {
		r.log.Info().Str("conn_id", c.ID).Str("room", room).Msg("joined room")
	}
}

func (r *Router) chat(c *Conn, in proto.Inbound) {
	room, ok := c.Room()
	if !ok || !r.registry.Has(room) {
		r.log.Debug().Str("conn_id", c.ID).Msg("dropping chat outside a room")
		return
	}

	payload, err := proto.ChatFrom(in, room).Encode()
	if err != nil {
		r.log.Warn().Err(err).Str("conn_id", c.ID).Msg("discarding unencodable chat")
		return
	}

	n := r.Broadcast(room, payload, c)
	r.log.Debug().Str("conn_id", c.ID).Str("room", room).Int("recipients", n).Msg("broadcast chat")

	if r.relay == nil {
		return
	}
	select {
	case r.outbox <- relayFrame{room: room, payload: payload}:
	default:
		r.log.Warn().Str("room", room).Msg("relay queue full, dropping")
	}
}

// RunRelay publishes queued chats until ctx is cancelled. No-op without a relay.
func (r *Router) RunRelay(ctx context.Context) {
	if r.relay == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.outbox:
			if err := r.relay.Publish(ctx, f.room, f.payload); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn().Err(err).Str("room", f.room).Msg("relay publish failed")
			}
		}
	}
}

// Broadcast enqueues payload for every open member of room except the given
// connection, which may be nil. Returns the number of members it reached.
func (r *Router) Broadcast(room string, payload []byte, except *Conn) int {
	sent := 0
	for _, member := range r.registry.Members(room) {
		if member == except || !member.Open() {
			continue
		}
		if member.Enqueue(payload) {
			sent++
			r.delivered.Add(1)
			continue
		}
		r.dropped.Add(1)
		if r.overflow == OverflowDisconnect {
			r.log.Info().Str("conn_id", member.ID).Str("room", room).Msg("closing slow consumer")
			member.Close()
		} else {
			r.log.Debug().Str("conn_id", member.ID).Str("room", room).Msg("send queue full, dropping")
		}
	}
	return sent
}

// Stats returns a snapshot of the fan-out counters.
func (r *Router) Stats() Stats {
	return Stats{
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}
