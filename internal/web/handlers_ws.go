package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"device-console/internal/console"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHub fans console events out to every open page.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan console.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan console.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client set. It returns after Stop, closing every client.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws page attached", "pages", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws page detached", "pages", total)

		case ev := <-h.broadcast:
			for _, ev := range coalesce(h.drain(ev)) {
				h.deliver(ev)
			}
		}
	}
}

// drain collects first and whatever else is already queued, without waiting.
func (h *WSHub) drain(first console.Event) []console.Event {
	batch := []console.Event{first}
	for len(batch) < cap(h.broadcast) {
		select {
		case ev := <-h.broadcast:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// coalesce drops hierarchy events superseded by a later hierarchy_loaded in the
// same batch: a page rebuilds its whole tree on hierarchy_loaded, so earlier
// location_* and hierarchy_loaded events carry nothing it still needs.
func coalesce(batch []console.Event) []console.Event {
	last := -1
	for i, ev := range batch {
		if ev.Type == console.EventHierarchyLoaded {
			last = i
		}
	}
	if last <= 0 {
		return batch
	}
	out := batch[:0:0]
	for i, ev := range batch {
		if i < last && isHierarchyEvent(ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func isHierarchyEvent(t string) bool {
	switch t {
	case console.EventHierarchyLoaded, console.EventLocationCreated,
		console.EventLocationUpdated, console.EventLocationDeleted:
		return true
	}
	return false
}

// deliver encodes ev once and queues it on every page. A page whose queue is
// full has fallen behind and is disconnected; it reconnects and reloads.
func (h *WSHub) deliver(ev console.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws encode event", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.dropLocked(client)
			h.logger.Warn("ws page dropped, send queue full", "event", ev.Type)
		}
	}
}

// dropLocked removes client and closes its queue. Unknown clients are ignored.
func (h *WSHub) dropLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues an event for all connected clients. Events are dropped
// when the queue is full.
func (h *WSHub) Broadcast(ev console.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", ev.Type)
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}

	// Pages never send anything meaningful.
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	if hello, err := json.Marshal(console.Event{Type: "hello", Data: map[string]string{"version": s.version}}); err == nil {
		client.send <- hello
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

// wsWritePump drains client.send and pings idle connections so proxies keep them open.
func (s *Server) wsWritePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
