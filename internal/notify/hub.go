package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"
	"github.com/fentz26/utimer/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Hub streams fire events to websocket clients as JSON text frames.
// Slow clients whose buffer is full miss events rather than block firing.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket accept failed")
		return
	}
	defer conn.CloseNow()

	send, ok := h.subscribe()
	if !ok {
		conn.Close(cws.StatusGoingAway, "shutting down")
		return
	}
	defer h.unsubscribe(send)

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				conn.Close(cws.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, cws.MessageText, msg)
			cancel()
			if err != nil {
				h.log.WithError(err).Debug("Websocket write failed")
				return
			}
		}
	}
}

func (h *Hub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Dispatch broadcasts ev to every connected client.
func (h *Hub) Dispatch(_ context.Context, ev models.FireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.log.WithField("task_id", ev.TaskID).Warn("Websocket client too slow, event dropped")
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

var _ Dispatcher = (*Hub)(nil)
