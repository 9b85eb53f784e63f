package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/trapline/internal/events"
)

const (
	// clientBuffer bounds the per-client send queue. A slow client
	// drops events rather than stalling the bus.
	clientBuffer = 100

	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// EventHub streams bus events to websocket clients. It subscribes to
// the bus once at construction and fans events out to every connected
// client.
type EventHub struct {
	log  zerolog.Logger
	done chan struct{}

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	send chan []byte
}

// NewEventHub creates the hub and wires it to the bus.
func NewEventHub(bus *events.Bus, log zerolog.Logger) *EventHub {
	h := &EventHub{
		log:     log.With().Str("component", "events_ws").Logger(),
		done:    make(chan struct{}),
		clients: make(map[*hubClient]struct{}),
	}
	bus.SubscribeAll(h.broadcast)
	return h
}

// broadcast encodes an event once and queues it for every client.
func (h *EventHub) broadcast(event *events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Client buffer full, dropping event")
		}
	}
}

// ServeHTTP handles GET /api/events/ws: upgrades the connection and
// streams events until the peer disconnects or the hub closes.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &hubClient{send: make(chan []byte, clientBuffer)}
	if !h.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(client)

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client connected")
	defer h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Inbound frames are discarded; a read error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-client.send:
			if err := h.write(ctx, conn, msg); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		case <-pings.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func (h *EventHub) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, msg)
}

func (h *EventHub) add(client *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *EventHub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (h *EventHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients. Safe to call more than once.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
