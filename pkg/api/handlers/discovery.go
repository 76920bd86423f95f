package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ecovent/pkg/api/types"
	"github.com/urmzd/ecovent/pkg/device"
)

// MaxSearchSeconds bounds a single LAN search.
const MaxSearchSeconds = 30

// DiscoveryHandler handles fan search and the event stream
type DiscoveryHandler struct {
	controller device.Controller
	subscriber device.EventSubscriber
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(controller device.Controller, subscriber device.EventSubscriber) *DiscoveryHandler {
	return &DiscoveryHandler{
		controller: controller,
		subscriber: subscriber,
	}
}

// Search handles POST /discovery/search
// @Summary      Search the LAN for fans
// @Description  Broadcasts a device search and returns fans that are not registered yet
// @Tags         discovery
// @Accept       json
// @Produce      json
// @Param        request  body      types.SearchRequest  false  "Search timeout (default 3 seconds, max 30)"
// @Success      200      {object}  types.SearchResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid timeout"
// @Failure      500      {object}  types.ErrorResponse  "Search failed"
// @Router       /discovery/search [post]
func (h *DiscoveryHandler) Search(c *gin.Context) {
	var req types.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.TimeoutSeconds = 0
	}
	if req.TimeoutSeconds > MaxSearchSeconds {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_timeout",
			Message: "Timeout cannot exceed 30 seconds",
		})
		return
	}

	found, err := h.controller.Discover(c.Request.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}

	result := make([]types.DeviceWithState, 0, len(found))
	for _, d := range found {
		result = append(result, toDeviceWithState(d, nil))
	}
	c.JSON(http.StatusOK, types.SearchResponse{
		Devices: result,
		Count:   len(result),
	})
}

// Events handles GET /events (SSE stream)
// @Summary      Subscribe to fan events
// @Description  Server-Sent Events stream of registrations, searches, state changes and outages
// @Tags         discovery
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /events [get]
func (h *DiscoveryHandler) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	eventChan := h.subscriber.Subscribe()
	defer h.subscriber.Unsubscribe(eventChan)

	sendSSEEvent(c.Writer, "connected", map[string]any{
		"timestamp": time.Now(),
		"message":   "Connected to fan event stream",
	})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	// Heartbeat ticker
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			sendSSEEvent(c.Writer, event.Type, event)
			c.Writer.Flush()

		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
			c.Writer.Flush()
		}
	}
}

// sendSSEEvent writes an SSE event to the response
func sendSSEEvent(w io.Writer, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: "+string(jsonData)+"\n\n")
}
