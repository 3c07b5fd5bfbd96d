package signal

import (
	"net/http"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig selects the optional surfaces of the relay HTTP server.
type RouterConfig struct {
	AuthEnabled          bool
	Tokens               *middleware.RoomTokenService
	ConnectionsPerMinute int
	MetricsEnabled       bool
	MetricsPath          string
	TracingEnabled       bool
}

// NewRouter assembles the relay's HTTP surface: the websocket endpoint,
// health and room listings, and optionally metrics and token issuing.
func NewRouter(relay *Relay, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.TracingEnabled {
		router.Use(middleware.Tracing())
	}

	wsHandlers := []gin.HandlerFunc{middleware.LimitConnections(cfg.ConnectionsPerMinute)}
	if cfg.AuthEnabled {
		wsHandlers = append(wsHandlers, middleware.RequireRoomToken(cfg.Tokens))
	}
	wsHandlers = append(wsHandlers, relay.HandleWebSocket)
	router.GET("/ws", wsHandlers...)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"timestamp":    time.Now().Unix(),
			"rooms":        relay.RoomCount(),
			"participants": relay.ParticipantCount(),
		})
	})

	router.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": relay.Rooms()})
	})

	if cfg.AuthEnabled {
		router.POST("/rooms/:room/token", func(c *gin.Context) {
			if err := validation.ValidateRoomName(c.Param("room")); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			token, err := cfg.Tokens.GenerateRoomToken(domain.RoomName(c.Param("room")))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	return router
}
