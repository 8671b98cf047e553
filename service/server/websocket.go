package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solflow/service/metrics"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the frame sent to websocket clients.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleWebsocketWallet streams one wallet's aggregates over a websocket.
// GET /api/v1/ws/wallets/{address}
func handleWebsocketWallet(hub *StreamHub, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			log.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events, cancel := hub.Subscribe(address)
		defer cancel()

		if m != nil {
			m.RecordStreamConnectionChange("websocket", 1)
			defer m.RecordStreamConnectionChange("websocket", -1)
		}

		log.DebugContext(r.Context(), "websocket client connected", "wallet", address, "remote_addr", r.RemoteAddr)

		// The read loop only handles control frames and notices disconnects
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(msg wsMessage) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(msg)
		}

		if err := write(wsMessage{Type: "connected", Data: map[string]string{"wallet": address}}); err != nil {
			return
		}

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				if err := write(wsMessage{Type: eventName(event), Data: event}); err != nil {
					log.DebugContext(r.Context(), "websocket write failed", "wallet", address, "error", err)
					return
				}
				if m != nil {
					m.RecordStreamEventSent("websocket", eventName(event))
				}

			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}

			case <-closed:
				log.DebugContext(r.Context(), "websocket client disconnected", "wallet", address)
				return
			}
		}
	})
}
