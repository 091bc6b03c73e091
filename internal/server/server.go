// Package server registers the Gin HTTP surface: health, stats, and
// the WebSocket upgrade endpoint that hands connections to the
// gateway (C10).
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/gateway"
	"github.com/ctxlens/backend/internal/session"
	"github.com/ctxlens/backend/pkg/Logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway is the authority on who may connect; origin checks
	// belong to a reverse proxy in front of this process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dependencies bundles everything the route handlers need.
type Dependencies struct {
	Log      *Logger.Logger
	Bus      *bus.Bus
	Gateway  *gateway.Gateway
	Sessions *session.Manager
}

// InitializeRoutes mounts every route onto router.
func InitializeRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/healthz", healthHandler())
	api := router.Group("/api/v1")
	api.GET("/stats", statsHandler(deps))
	router.GET("/ws/:client_id", wsHandler(deps))
}

func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func statsHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"queues":            deps.Bus.Stats(),
			"connected_clients": deps.Gateway.ConnectedClientIDs(),
			"active_session":    deps.Sessions.GetActiveSessionCode(),
			"participants":      deps.Sessions.ParticipantCount(),
		})
	}
}

// wsHandler upgrades the request and hands the connection to the
// gateway, keyed by the client_id path segment (§6: "path includes the
// client id as a trailing segment").
func wsHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Param("client_id")
		if clientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing client_id path segment"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Log.Errorf("server: websocket upgrade for %s: %v", clientID, err)
			return
		}

		deps.Gateway.Accept(c.Request.Context(), clientID, conn)
	}
}
