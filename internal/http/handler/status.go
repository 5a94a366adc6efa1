package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vidrelay.app/relay/internal/relay"
)

// StatusProvider is the read-only view of the relay the HTTP surface needs.
type StatusProvider interface {
	Status() relay.Status
}

type StatusHandler struct {
	relay StatusProvider
}

func NewStatusHandler(p StatusProvider) *StatusHandler {
	return &StatusHandler{relay: p}
}

// Root answers the platform's keep-alive probe.
func (h *StatusHandler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Bot is running!")
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports 200 only while the relay is subscribed and forwarding.
func (h *StatusHandler) Ready(c *gin.Context) {
	status := h.relay.Status()
	if status.State != relay.StateRunning.String() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "state": status.State})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "state": status.State})
}

func (h *StatusHandler) Stats(c *gin.Context) {
	status := h.relay.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":            status.State,
		"source":           status.Source,
		"destination":      status.Destination,
		"videos_forwarded": status.Stats.Forwarded,
		"errors":           status.Stats.Errors,
		"start_time":       status.Stats.StartTime,
		"uptime_seconds":   int64(status.Stats.Uptime.Seconds()),
	})
}
