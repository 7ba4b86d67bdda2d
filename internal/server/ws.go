package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kory/internal/bus"
	"kory/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The workbench binds to localhost; browser clients connect from a dev
	// server on another port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub upgrades clients and streams bus events to each as JSON frames.
type Hub struct {
	bus    *bus.Bus
	logger logging.Logger
}

func NewHub(b *bus.Bus) *Hub {
	return &Hub{bus: b, logger: logging.NewComponentLogger("ws")}
}

func (h *Hub) handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.bus.Subscribe(0)
	defer sub.Close()

	// Drain client frames so pongs and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("write event: %v", err)
				return
			}
		}
	}
}
