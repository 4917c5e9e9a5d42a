package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
)

// Client is one live WebSocket session with a companion device.
// A session starts in one of two states: trusted (the device id has a
// registry record, so it is authenticated immediately) or untrusted
// (it must present the pairing code before the pairing timer expires).
type Client struct {
	server *Server
	conn   *websocket.Conn

	// send carries marshaled outbound frames to writePump. Buffered; a
	// full buffer drops the frame rather than blocking the sender.
	send chan json.RawMessage

	// done signals connection teardown. Closed exactly once via sendOnce.
	done     chan struct{}
	sendOnce sync.Once

	deviceID   string
	deviceName string
	deviceType registry.DeviceType
	remoteAddr string

	// mu guards authenticated and pairTimer.
	mu            sync.Mutex
	authenticated bool
	pairTimer     *time.Timer

	// pairLimiter throttles pairing attempts on this connection so a
	// misbehaving peer cannot brute-force the six-digit code.
	pairLimiter *rate.Limiter
}

// handleWebSocket upgrades an HTTP request to a WebSocket session and
// runs its lifecycle. Devices identify themselves with query parameters
// (device_id, device_type, device_name); a peer that omits its id gets a
// fresh one, which by construction has no registry record and therefore
// lands in the pairing flow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	deviceType := registry.ParseDeviceType(r.URL.Query().Get("device_type"))
	reportedName := r.URL.Query().Get("device_name")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	deviceName := reportedName
	if deviceName == "" {
		deviceName = string(deviceType)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		server:      s,
		conn:        conn,
		send:        make(chan json.RawMessage, channelBufferSize),
		done:        make(chan struct{}),
		deviceID:    deviceID,
		deviceName:  deviceName,
		deviceType:  deviceType,
		remoteAddr:  r.RemoteAddr,
		pairLimiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	// A reconnect with the same device id replaces the old session. The
	// old session's per-device state goes with it, exactly as on a plain
	// disconnect: in particular the sync tracker must forget hashes for
	// frames that die in the discarded batch, or the next push would be
	// suppressed and the new session would never see that state.
	for existing := range s.clients {
		if existing.deviceID == deviceID {
			log.Printf("server: device %s reconnected, dropping stale session", deviceID)
			s.batcher.Discard(deviceID)
			s.limiter.Forget(deviceID)
			s.tracker.Forget(deviceID)
			existing.closeSend()
			delete(s.clients, existing)
		}
	}
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()

	device, err := s.registry.Get(deviceID)
	if err != nil {
		log.Printf("server: registry lookup for %s failed: %v", deviceID, err)
	}

	if device != nil {
		// Known device: authenticated for the whole session without a
		// code prompt. Refresh the record so devices list shows liveness,
		// and fold in a fresher name or type reported by this session.
		// An absent name or an unknown type never overwrites stored data.
		client.setAuthenticated(true)
		now := s.timeNow()
		updated := *device
		updated.LastSeen = now
		if reportedName != "" && reportedName != device.Name {
			updated.Name = reportedName
		}
		if deviceType != registry.DeviceTypeUnknown && deviceType != device.Type {
			updated.Type = deviceType
		}
		if updated.Name != device.Name || updated.Type != device.Type {
			if err := s.registry.Upsert(&updated); err != nil {
				log.Printf("server: refresh device %s: %v", deviceID, err)
			}
		} else if err := s.registry.Touch(deviceID, now); err != nil {
			log.Printf("server: touch device %s: %v", deviceID, err)
		}
		log.Printf("server: trusted device connected: %s (%s) from %s",
			device.Name, deviceID, client.remoteAddr)

		client.sendFrame(marshalFrame(connectedFrame{
			baseFrame: s.newBase(MessageTypeConnected),
			DeviceID:  deviceID,
		}))
	} else {
		log.Printf("server: unknown device %s (%s) from %s, pairing required",
			deviceName, deviceID, client.remoteAddr)

		client.sendFrame(marshalFrame(pairingRequiredFrame{
			baseFrame:   s.newBase(MessageTypePairingRequired),
			Message:     "pairing required: enter the code shown on the host",
			TimeoutSecs: int(s.pairingTimeout.Seconds()),
		}))

		client.mu.Lock()
		client.pairTimer = time.AfterFunc(s.pairingTimeout, client.pairingExpired)
		client.mu.Unlock()
	}

	client.readPump()
}

// pairingExpired fires when an untrusted session fails to pair in time.
func (c *Client) pairingExpired() {
	if c.isAuthenticated() {
		return
	}
	log.Printf("server: pairing timed out for device %s (%s)", c.deviceID, c.remoteAddr)
	c.sendFrame(marshalFrame(pairingTimeoutFrame{
		baseFrame: c.server.newBase(MessageTypePairingTimeout),
		Message:   "pairing timed out",
	}))
	// Let the timeout frame drain before the close frame follows it.
	time.AfterFunc(250*time.Millisecond, c.closeSend)
}

// cancelPairTimer stops a pending pairing deadline, if any.
func (c *Client) cancelPairTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairTimer != nil {
		c.pairTimer.Stop()
		c.pairTimer = nil
	}
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// sendFrame queues a marshaled frame for delivery. Frames are dropped,
// not blocked on, when the session buffer is full or already torn down.
func (c *Client) sendFrame(frame json.RawMessage) {
	if frame == nil {
		return
	}
	select {
	case <-c.done:
	default:
		select {
		case c.send <- frame:
		default:
			log.Printf("server: send buffer full for device %s, dropping frame", c.deviceID)
		}
	}
}

// closeSend signals teardown exactly once. writePump reacts by sending
// the close frame and closing the connection.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}
