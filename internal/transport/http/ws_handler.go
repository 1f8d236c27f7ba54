package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
)

var errSessionClosed = errors.New("session closed by server")

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
type WSHandler struct {
	hub            *core.Hub
	log            *zerolog.Logger
	origins        []string
	queueSize      int
	maxMessageSize int64
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	return &WSHandler{
		hub:            hub,
		log:            logger,
		origins:        cfg.AllowedOrigins,
		queueSize:      cfg.SendQueueSize,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.origins) == 0,
		OriginPatterns:     h.origins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(h.maxMessageSize)

	conn := core.NewConn(uuid.NewString(), r.RemoteAddr, h.queueSize)
	h.hub.Connect(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, ws, conn)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, ws, conn)
	}()

	err = <-errCh
	if errors.Is(err, errSessionClosed) {
		_ = ws.Close(websocket.StatusGoingAway, "session closed")
	}
	cancel() // stop the other goroutine
	<-errCh

	if normalClose(err) {
		h.hub.Disconnect(conn)
		_ = ws.Close(websocket.StatusNormalClosure, "closing")
		return
	}

	h.hub.TransportError(conn, err)
	_ = ws.Close(websocket.StatusInternalError, "transport error")
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *core.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		h.hub.Deliver(conn, data)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *core.Conn) error {
	for {
		select {
		case payload := <-conn.Outbound():
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				h.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("write ws payload")
				return err
			}
		case <-conn.Done():
			return errSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func normalClose(err error) bool {
	if err == nil ||
		errors.Is(err, errSessionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
