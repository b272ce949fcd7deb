package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Dusre/radar/internal/services"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber delivers a signal whenever the viewer state changes
type Subscriber interface {
	Subscribe() (<-chan struct{}, func())
}

// StateMessage is the frame pushed to WebSocket clients
type StateMessage struct {
	Type string              `json:"type"`
	Data *services.StateView `json:"data"`
}

// StateHub pushes the state view to WebSocket clients on every change and on
// a fixed tick so ages and the countdown keep moving.
type StateHub struct {
	viewer   Viewer
	store    Subscriber
	upgrader websocket.Upgrader
	tick     time.Duration
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewStateHub creates a hub; tick <= 0 means one second
func NewStateHub(viewer Viewer, store Subscriber, tick time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StateHub {
	if tick <= 0 {
		tick = time.Second
	}
	return &StateHub{
		viewer: viewer,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		tick:    tick,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ServeWS handles GET /ws
func (h *StateHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.logger.Warn(ctx, "[WS_UPGRADE_FAILED] WebSocket upgrade failed", logging.Fields{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	h.metrics.ActiveConnections.Inc()
	defer h.metrics.ActiveConnections.Dec()

	h.logger.Info(ctx, "[WS_CONNECTED] Client connected", logging.Fields{
		"remote_addr": r.RemoteAddr,
	})

	changes, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := h.send(conn); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			h.logger.Info(ctx, "[WS_DISCONNECTED] Client disconnected", logging.Fields{
				"remote_addr": r.RemoteAddr,
			})
			return
		case <-ctx.Done():
			return
		case <-changes:
			if err := h.send(conn); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.send(conn); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StateHub) send(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(StateMessage{Type: "state", Data: h.viewer.State()})
}

// readPump drains client frames so pongs and close frames are processed
func (h *StateHub) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// RegisterRoutes registers the WebSocket route
func (h *StateHub) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.ServeWS).Methods("GET")
}
