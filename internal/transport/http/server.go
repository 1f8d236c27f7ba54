package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// NewServer builds the HTTP server exposing the relay endpoints.
// The websocket upgrade is served outside gin so the handshake owns the raw response.
func NewServer(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg, logger))
	mux.Handle("/", newAPIEngine(hub, logger))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func newAPIEngine(hub *core.Hub, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)
	engine.GET("/stats", statsHandler(hub))

	return engine
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func statsHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := hub.Router().Stats()
		c.JSON(http.StatusOK, StatsResponse{
			Connections: hub.Connections(),
			Rooms:       hub.Registry().Rooms(),
			Delivered:   stats.Delivered,
			Dropped:     stats.Dropped,
		})
	}
}
