package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jerome2525/radar-app/internal/ingest"
	"github.com/jerome2525/radar-app/internal/observability"
)

const subscriberBuffer = 8

// Hub fans batch notices out to connected WebSocket clients. It implements
// ingest.Notifier so the poller can publish without knowing about HTTP.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	subscribers map[chan ingest.BatchNotice]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[chan ingest.BatchNotice]struct{}),
	}
}

// Publish delivers a notice to every subscriber. Subscribers that cannot
// keep up miss the notice rather than blocking the poller.
func (h *Hub) Publish(n ingest.BatchNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			h.logger.Debug("dropping batch notice for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe() chan ingest.BatchNotice {
	ch := make(chan ingest.BatchNotice, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LiveSubscribers.Inc()
	}
	return ch
}

func (h *Hub) unsubscribe(ch chan ingest.BatchNotice) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LiveSubscribers.Dec()
	}
}

// Serve handles GET /api/v1/live. The connection is write-only: the client
// receives a JSON notice for each stored batch until it disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow() //nolint:errcheck

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	h.logger.Debug("live subscriber connected", "remote_addr", r.RemoteAddr)

	// CloseRead watches for client close frames; we never expect data.
	ctx := c.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
			return
		case n := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c, n)
			cancel()
			if err != nil {
				h.logger.Debug("live subscriber write failed", "error", err)
				return
			}
		}
	}
}
