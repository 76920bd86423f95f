package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ecovent/pkg/device"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

// Stream message types.
const (
	StreamState       = "state"
	StreamUnavailable = "unavailable"
	StreamRemoved     = "removed"
)

// StreamMessage is one WebSocket frame sent to stream clients.
type StreamMessage struct {
	Type  string             `json:"type"`
	Data  device.DeviceState `json:"data,omitempty"`
	Error string             `json:"error,omitempty"`
	Time  time.Time          `json:"time"`
}

var upgrader = websocket.Upgrader{
	// The API already allows any origin through CORS.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler pushes live state of one fan over a WebSocket
type StreamHandler struct {
	controller device.Controller
	subscriber device.EventSubscriber
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(controller device.Controller, subscriber device.EventSubscriber) *StreamHandler {
	return &StreamHandler{
		controller: controller,
		subscriber: subscriber,
	}
}

// Stream handles GET /devices/:id/ws
// @Summary      Stream fan state
// @Description  WebSocket that sends the fan's current state, then every change, outage or removal
// @Tags         control
// @Param        id   path      string  true  "Fan ID, name or device ID"
// @Success      101  {object}  StreamMessage
// @Failure      404  {object}  types.ErrorResponse  "Fan not found"
// @Router       /devices/{id}/ws [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	d, err := h.controller.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	// Subscribe before reading the current state so no change is missed.
	events := h.subscriber.Subscribe()
	defer h.subscriber.Unsubscribe(events)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("id", d.ID).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go readUntilClosed(conn, done)

	initial := StreamMessage{Type: StreamState, Time: time.Now()}
	if state, err := h.controller.GetDeviceState(c.Request.Context(), d.ID); err == nil {
		initial.Data = state
	} else {
		initial.Type = StreamUnavailable
		initial.Error = err.Error()
	}
	if err := writeStream(conn, initial); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Device == nil || ev.Device.ID != d.ID {
				continue
			}
			msg, last := streamMessage(ev)
			if msg == nil {
				continue
			}
			if err := writeStream(conn, *msg); err != nil || last {
				if last {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "fan removed"),
						time.Now().Add(writeWait))
				}
				return
			}
		}
	}
}

// streamMessage maps a controller event to a stream frame. last reports
// that the stream ends after it.
func streamMessage(ev device.Event) (msg *StreamMessage, last bool) {
	switch ev.Type {
	case device.EventStateChanged:
		return &StreamMessage{Type: StreamState, Data: ev.State, Time: ev.Timestamp}, false
	case device.EventDeviceUnavailable:
		return &StreamMessage{Type: StreamUnavailable, Error: ev.Error, Time: ev.Timestamp}, false
	case device.EventDeviceRemoved:
		return &StreamMessage{Type: StreamRemoved, Time: ev.Timestamp}, true
	}
	return nil, false
}

func writeStream(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readUntilClosed drains client frames so pongs and closes are handled.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
