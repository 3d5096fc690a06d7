package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/models"
)

type Options struct {
	AllowClientHints bool
	StoreTimeout     time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// Handler upgrades an authenticated request and runs the subscription
// protocol until the connection ends. It expects the auth middleware to have
// stored the user under "user".
func Handler(hub *Hub, gate Gate, opts Options) gin.HandlerFunc {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return func(c *gin.Context) {
		if hub == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
			return
		}
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user := uVal.(models.User)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws: upgrade failed")
			return
		}
		cl := newClient(hub, conn, authz.CallerFrom(user), gate, opts)
		log.Debug().Str("conn", cl.id).Uint("user", user.ID).Str("role", user.Role).Msg("ws: client connected")

		go cl.writePump()
		cl.readPump()
	}
}
