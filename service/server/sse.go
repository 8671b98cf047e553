package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/solflow/service/metrics"
	natspkg "github.com/brojonat/solflow/service/nats"
)

const (
	subscriberBuffer  = 16
	keepaliveInterval = 10 * time.Second
)

// EventSource delivers ledger events. It is implemented by nats.Subscriber.
type EventSource interface {
	Subscribe(ctx context.Context, subject string, handler func(natspkg.Message)) error
}

var _ EventSource = (*natspkg.Subscriber)(nil)

// StreamHub fans wallet events from a single NATS subscription out to
// every connected stream client. Slow clients drop events rather than
// blocking the subscription.
type StreamHub struct {
	source EventSource
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[chan *natspkg.WalletEvent]struct{}
	closed bool
}

// NewStreamHub creates a hub reading from source. Call Run to start delivery.
func NewStreamHub(source EventSource, logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		source: source,
		logger: logger.With("component", "stream_hub"),
		subs:   make(map[string]map[chan *natspkg.WalletEvent]struct{}),
	}
}

// Run consumes wallet events until ctx is done.
func (h *StreamHub) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "stream hub running", "subject", natspkg.AllWalletsSubject)
	return h.source.Subscribe(ctx, natspkg.AllWalletsSubject, h.dispatch)
}

// Subscribe registers a client for wallet's events. The returned channel is
// closed by the cancel func or when the hub closes.
func (h *StreamHub) Subscribe(wallet string) (<-chan *natspkg.WalletEvent, func()) {
	ch := make(chan *natspkg.WalletEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[wallet] == nil {
		h.subs[wallet] = make(map[chan *natspkg.WalletEvent]struct{})
	}
	h.subs[wallet][ch] = struct{}{}

	return ch, func() { h.unsubscribe(wallet, ch) }
}

func (h *StreamHub) unsubscribe(wallet string, ch chan *natspkg.WalletEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[wallet]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, wallet)
	}
}

// Subscribers returns the number of clients connected for wallet.
func (h *StreamHub) Subscribers(wallet string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[wallet])
}

func (h *StreamHub) dispatch(msg natspkg.Message) {
	wallet, ok := natspkg.WalletFromSubject(msg.Subject)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[wallet]
	if len(set) == 0 {
		return
	}

	var event natspkg.WalletEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		h.logger.Warn("failed to unmarshal wallet event", "subject", msg.Subject, "error", err)
		return
	}

	for ch := range set {
		select {
		case ch <- &event:
		default:
			h.logger.Warn("stream client is slow, dropping event", "wallet", wallet, "slot", event.Slot)
		}
	}
}

// Close disconnects every client. Subsequent subscriptions are closed immediately.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for wallet, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, wallet)
	}
	h.logger.Info("stream hub closed")
}

// handleStreamWallet handles SSE streaming of one wallet's aggregates.
// GET /api/v1/stream/wallets/{address}
func handleStreamWallet(hub *StreamHub, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r, logger)
		address := r.PathValue("address")

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Streams outlive the server's write timeout
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			log.DebugContext(r.Context(), "could not clear write deadline", "error", err)
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events, cancel := hub.Subscribe(address)
		defer cancel()

		if m != nil {
			m.RecordStreamConnectionChange("sse", 1)
			defer m.RecordStreamConnectionChange("sse", -1)
		}

		log.DebugContext(r.Context(), "SSE client connected",
			"wallet", address,
			"remote_addr", r.RemoteAddr,
		)

		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}

		// Send initial connection event
		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", address)
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event, ok := <-events:
				if !ok {
					// hub closed
					return
				}

				data, err := json.Marshal(event)
				if err != nil {
					log.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}

				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(event), data)
				flush()

				if m != nil {
					m.RecordStreamEventSent("sse", eventName(event))
				}

			case <-r.Context().Done():
				log.DebugContext(r.Context(), "SSE client disconnected",
					"wallet", address,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}

func eventName(event *natspkg.WalletEvent) string {
	if event.Undone {
		return "undo"
	}
	return "aggregates"
}
