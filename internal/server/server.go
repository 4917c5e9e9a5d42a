package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket provides the message-oriented full-duplex
	// transport, including ping/pong and close handling.
	"github.com/gorilla/websocket"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/batch"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/data"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/pairing"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/ratelimit"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/syncstate"
)

// channelBufferSize is the buffer size for per-client send channels.
// This value balances memory usage against the ability to absorb bursts
// of outbound frames without blocking senders. If the buffer fills up,
// frames are dropped for that client.
const channelBufferSize = 256

// handlerFunc processes one inbound frame for one client. Handlers run on
// the client's own read goroutine, so one device's messages are processed
// strictly in order; different devices interleave freely.
type handlerFunc func(c *Client, raw []byte)

// Config carries the explicit dependencies of a Server. Everything the
// sync layer touches - registry, pairing challenge, limiter, sync tracker,
// Data Service - is constructed once at startup and injected here; there
// is no ambient package state.
type Config struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:8765").
	Addr string

	// Registry persists trusted-device records. Required.
	Registry registry.Store

	// Challenge is the process-wide pairing code. Required.
	Challenge *pairing.Challenge

	// Limiter throttles inbound messages per device. Required.
	Limiter *ratelimit.Limiter

	// Tracker suppresses pushes of unchanged state. Required.
	Tracker *syncstate.Tracker

	// DataService is the external source of truth the handlers call into.
	// Required.
	DataService data.Service

	// PairingTimeout bounds how long an untrusted session may stay open.
	// Default: 30s.
	PairingTimeout time.Duration

	// BatchDelay is the outbound coalescing delay. Default: 100ms.
	BatchDelay time.Duration

	// PingInterval is the WebSocket-level ping interval. Default: 30s.
	PingInterval time.Duration

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Server manages companion-device WebSocket connections.
// It runs the pairing handshake for untrusted devices, dispatches inbound
// protocol messages, and exposes the host-callable push operations.
//
// An update pushed back by one device is NOT automatically fanned out to
// other connected devices: they see it on their next request or on the
// next host-initiated push. That asymmetry is current protocol behavior
// the companion apps rely on, not an oversight.
type Server struct {
	addr     string
	upgrader websocket.Upgrader

	// mu protects clients and stopped.
	mu      sync.RWMutex
	clients map[*Client]bool
	stopped bool

	httpServer *http.Server
	startedAt  time.Time

	registry    registry.Store
	challenge   *pairing.Challenge
	limiter     *ratelimit.Limiter
	tracker     *syncstate.Tracker
	batcher     *batch.Batcher
	dataService data.Service

	pairingTimeout time.Duration
	pingInterval   time.Duration
	timeNow        func() time.Time

	// handlers maps every inbound message kind to its handler.
	// Built once in New; an unknown type on the wire is logged and the
	// frame ignored.
	handlers map[MessageType]handlerFunc

	// bypassAuth holds the kinds that skip authentication and rate
	// limiting: pairing itself and liveness pings.
	bypassAuth map[MessageType]bool
}

// New creates a server from its injected dependencies.
// Call Start or StartAsync to begin accepting connections.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("server: Registry is required")
	}
	if cfg.Challenge == nil {
		return nil, errors.New("server: Challenge is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("server: Limiter is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("server: Tracker is required")
	}
	if cfg.DataService == nil {
		return nil, errors.New("server: DataService is required")
	}

	if cfg.PairingTimeout == 0 {
		cfg.PairingTimeout = 30 * time.Second
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 100 * time.Millisecond
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}

	s := &Server{
		addr:    cfg.Addr,
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			// Companion apps connect from app webviews and native
			// clients with no meaningful Origin header; the trust
			// boundary is the pairing gate, not the origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		registry:       cfg.Registry,
		challenge:      cfg.Challenge,
		limiter:        cfg.Limiter,
		tracker:        cfg.Tracker,
		dataService:    cfg.DataService,
		pairingTimeout: cfg.PairingTimeout,
		pingInterval:   cfg.PingInterval,
		timeNow:        cfg.TimeNow,
	}

	s.batcher = batch.New(cfg.BatchDelay, s.flushBatch)

	// The handler map covers every inbound kind; keep it in sync with the
	// MessageType constants in message.go.
	s.handlers = map[MessageType]handlerFunc{
		MessageTypePair:                (*Client).handlePair,
		MessageTypePing:                (*Client).handlePing,
		MessageTypeRequestShoppingList: (*Client).handleRequestShoppingList,
		MessageTypeRequestMealPlan:     (*Client).handleRequestMealPlan,
		MessageTypeRequestRecipe:       (*Client).handleRequestRecipe,
		MessageTypeSyncChanges:         (*Client).handleSyncChanges,
		MessageTypeItemPurchased:       (*Client).handleItemPurchased,
		MessageTypeItemUnpurchased:     (*Client).handleItemUnpurchased,
		MessageTypeAddPantryItem:       (*Client).handleAddPantryItem,
	}
	s.bypassAuth = map[MessageType]bool{
		MessageTypePair: true,
		MessageTypePing: true,
	}

	return s, nil
}

// frameTimestamp formats the server-frame timestamp.
func (s *Server) frameTimestamp() string {
	return s.timeNow().UTC().Format(time.RFC3339)
}

// newBase builds the shared envelope of an outbound frame.
func (s *Server) newBase(t MessageType) baseFrame {
	return baseFrame{Type: t, Timestamp: s.frameTimestamp()}
}

// Start begins listening for connections. This method blocks; use
// StartAsync for non-blocking startup with error reporting.
func (s *Server) Start() error {
	mux := s.createMux()
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	s.startedAt = s.timeNow()

	log.Printf("server: listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server in a goroutine and reports startup errors.
// The returned channel receives nil if the listener was created, or an
// error (e.g., port already in use) otherwise.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.httpServer = &http.Server{Handler: mux}
	s.startedAt = s.timeNow()

	go func() {
		log.Printf("server: listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the listener address the server was configured with.
func (s *Server) Addr() string {
	return s.addr
}

// createMux creates the HTTP mux with the WebSocket endpoint and the
// host-callable HTTP surface used by the CLI.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/pair/generate", s.handleGenerateCode)
	mux.HandleFunc("/api/devices", s.handleDevicesList)
	mux.HandleFunc("/api/devices/", s.handleDeviceUntrust)
	mux.HandleFunc("/api/push/shopping-list", s.handlePushShoppingList)
	mux.HandleFunc("/api/push/meal-plan", s.handlePushMealPlan)
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// Stop gracefully shuts down the server: all clients receive a close
// frame, pending batches are discarded, and the listener stops.
func (s *Server) Stop() error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return nil // Already stopped
	}
	s.stopped = true

	// Signal every client to shut down. writePump sends the close frame
	// and closes the connection when it sees done closed; we don't write
	// directly here to avoid racing with writePump.
	for client := range s.clients {
		s.batcher.Discard(client.deviceID)
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of live connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// clientByDevice finds the live connection for a device id.
// Returns nil if the device is not connected.
func (s *Server) clientByDevice(deviceID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		if c.deviceID == deviceID {
			return c
		}
	}
	return nil
}

// authenticatedClients returns the live authenticated connections whose
// device type matches the target ("all" matches every type).
func (s *Server) authenticatedClients(target registry.DeviceType) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Client
	for c := range s.clients {
		if !c.isAuthenticated() {
			continue
		}
		if target != TargetAll && c.deviceType != target {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Untrust deletes a device's trusted record and, if the device is
// currently connected, notifies it and forces the transport closed.
// A later reconnect with the same id starts over at pairing.
func (s *Server) Untrust(deviceID string) error {
	if err := s.registry.Delete(deviceID); err != nil {
		return fmt.Errorf("delete device record: %w", err)
	}

	if c := s.clientByDevice(deviceID); c != nil {
		log.Printf("server: untrusting connected device %s, closing session", deviceID)
		c.setAuthenticated(false)
		c.sendFrame(marshalFrame(unpairedFrame{
			baseFrame: s.newBase(MessageTypeUnpaired),
			Message:   "this device has been unpaired by the host",
		}))
		// Give writePump a moment to drain the unpaired notice before the
		// close frame goes out.
		time.AfterFunc(250*time.Millisecond, c.closeSend)
	}

	return nil
}

// flushBatch delivers a device's coalesced frames when its batch timer
// fires. A single frame is written unwrapped to preserve the
// single-message shape older app builds expect; several are wrapped in a
// batch envelope in their original order.
func (s *Server) flushBatch(deviceID string, frames []json.RawMessage) {
	c := s.clientByDevice(deviceID)
	if c == nil {
		// Disconnect raced the flush timer; the queue dies with the session.
		log.Printf("server: dropping %d batched frames for disconnected device %s", len(frames), deviceID)
		return
	}

	if len(frames) == 1 {
		c.sendFrame(frames[0])
		return
	}

	c.sendFrame(marshalFrame(batchFrame{
		baseFrame: s.newBase(MessageTypeBatch),
		Messages:  frames,
	}))
}
