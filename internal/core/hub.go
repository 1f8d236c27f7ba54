package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
)

type event struct {
	kind    eventKind
	conn    *Conn
	payload []byte
}

// Hub owns connection lifecycle and serialises every event through one loop.
type Hub struct {
	registry *Registry
	router   *Router
	log      *zerolog.Logger

	events chan event
	done   chan struct{}

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewHub creates a hub dispatching to router over registry.
func NewHub(registry *Registry, router *Router, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		registry: registry,
		router:   router,
		log:      logger,
		events:   make(chan event),
		done:     make(chan struct{}),
		conns:    make(map[*Conn]struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every live session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go h.router.RunRelay(ctx)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		}
	}
}

// Done is closed after Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Connect registers c as an idle connection.
func (h *Hub) Connect(c *Conn) {
	h.post(event{kind: eventConnect, conn: c})
}

// Deliver queues an inbound frame from c for routing.
func (h *Hub) Deliver(c *Conn, payload []byte) {
	h.post(event{kind: eventMessage, conn: c, payload: payload})
}

// Disconnect reaps c after its transport closed.
func (h *Hub) Disconnect(c *Conn) {
	h.post(event{kind: eventDisconnect, conn: c})
}

// TransportError logs a transport fault and reaps c as if it had closed.
func (h *Hub) TransportError(c *Conn, err error) {
	h.log.Warn().Err(err).Str("conn_id", c.ID).Msg("transport error")
	h.Disconnect(c)
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Registry exposes the room registry the hub cleans up.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Router exposes the router the hub dispatches to.
func (h *Hub) Router() *Router {
	return h.router
}

// post hands ev to the loop; events is unbuffered so nothing is accepted after Run returns.
func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
		if ev.kind == eventConnect {
			ev.conn.Close()
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case eventConnect:
		h.onConnect(ev.conn)
	case eventMessage:
		if !h.registered(ev.conn) {
			return
		}
		h.router.Handle(ctx, ev.conn, ev.payload)
	case eventDisconnect:
		h.onDisconnect(ev.conn)
	}
}

func (h *Hub) onConnect(c *Conn) {
	if !c.markIdle() {
		return
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Info().Str("conn_id", c.ID).Str("remote", c.Remote).Int("total", total).Msg("client connected")
}

func (h *Hub) onDisconnect(c *Conn) {
	c.Close()

	h.mu.Lock()
	_, known := h.conns[c]
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()

	if room, ok := c.Room(); ok {
		if h.registry.Leave(c, room) {
			h.log.Info().Str("conn_id", c.ID).Str("room", room).Msg("left room")
		}
	}
	if known {
		h.log.Info().Str("conn_id", c.ID).Int("total", total).Msg("client disconnected")
	}
}

func (h *Hub) registered(c *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[c]
	return ok
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.Close()
	}
	h.registry.Reset()
	h.log.Info().Int("closed", len(conns)).Msg("hub stopped")
}
