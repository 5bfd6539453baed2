package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborlabs/taskdeck/backend/internal/auth"
	"github.com/harborlabs/taskdeck/backend/internal/realtime"
)

const heartbeatInterval = 25 * time.Second

// handleEventStream serves the live event feed over server-sent events. The
// browser EventSource API cannot set headers, so the token is also accepted
// as an access_token query parameter. Authentication happens strictly before
// the session is registered with the hub.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	identity, err := h.streamIdentity(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stream, cleanup := h.hub.Subscribe(c.Request.Context(), identity.UserID, identity.Role)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Name, event)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtime.EventNameHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) streamIdentity(c *gin.Context) (auth.Identity, error) {
	if identity, err := h.identityFromHeader(c); err == nil {
		return identity, nil
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		return auth.Identity{}, errInvalidAuthorization
	}
	return h.tokens.ValidateToken(token)
}
