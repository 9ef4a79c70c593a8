// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eren23/attocode-sub003/pkg/logger"
)

const (
	streamClientBuffer = 128
	streamWriteTimeout = 10 * time.Second
)

// EventStreamServer fans swarm events out to websocket clients, for live
// dashboards watching a run. Each client gets a buffered queue; a client
// that cannot keep up is dropped rather than stalling the bus.
type EventStreamServer struct {
	bus      *EventBus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]bool
	sub     *Subscription
}

type streamClient struct {
	conn *websocket.Conn
	send chan SwarmEvent
}

// NewEventStreamServer creates a server attached to the bus. The returned
// server is an http.Handler for the websocket endpoint.
func NewEventStreamServer(bus *EventBus) *EventStreamServer {
	s := &EventStreamServer{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]bool),
	}
	s.sub = bus.Subscribe(s.broadcast)
	return s
}

// Close detaches from the bus and disconnects every client.
func (s *EventStreamServer) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// New clients first receive the recent event history so a dashboard attached
// mid-run is not blind to what already happened.
func (s *EventStreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("swarm", "Websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := &streamClient{conn: conn, send: make(chan SwarmEvent, streamClientBuffer)}

	for _, e := range s.bus.Recent(64) {
		select {
		case client.send <- e:
		default:
		}
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go s.readLoop(client)
	s.writeLoop(client)
}

// broadcast queues an event for every client, dropping those whose buffer
// is full.
func (s *EventStreamServer) broadcast(e SwarmEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- e:
		default:
			close(c.send)
			delete(s.clients, c)
			logger.DebugCF("swarm", "Dropped slow stream client", nil)
		}
	}
}

// readLoop drains client frames (we expect none) and detects disconnects.
func (s *EventStreamServer) readLoop(c *streamClient) {
	defer s.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStreamServer) writeLoop(c *streamClient) {
	defer c.conn.Close()
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := c.conn.WriteJSON(e); err != nil {
			s.remove(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *EventStreamServer) remove(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		close(c.send)
		delete(s.clients, c)
	}
}
