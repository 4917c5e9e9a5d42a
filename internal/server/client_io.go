package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/jkbarger3969/foodie-meal-planner-sub000/internal/errors"
)

const (
	// writeWait is the deadline for a single WebSocket write.
	writeWait = 10 * time.Second

	// pongWait bounds how long we tolerate a silent peer before the read
	// deadline drops the connection.
	pongWait = 90 * time.Second

	// maxMessageSize caps inbound frames. Sync payloads are small; a
	// larger frame is a broken or hostile peer.
	maxMessageSize = 512 * 1024
)

// typeProbe pulls just the discriminator out of an inbound frame so the
// dispatcher can route without decoding the full payload twice.
type typeProbe struct {
	Type MessageType `json:"type"`
}

// readPump reads frames from the device until the connection drops, runs
// the dispatch pipeline on each, and tears the session down on exit.
// One goroutine per connection; handlers run inline, so a device's own
// messages are processed in arrival order.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: read error for device %s: %v", c.deviceID, err)
			}
			return
		}
		c.dispatch(raw)
	}
}

// dispatch routes one inbound frame. The checks run in a fixed order:
// parse, known type, authentication, rate limit, handler. Pairing and
// ping frames skip the authentication and rate-limit gates so an
// untrusted device can still pair and any device can keep the link warm.
func (c *Client) dispatch(raw []byte) {
	// Malformed frames are logged and dropped without a reply; a peer
	// that cannot produce JSON cannot be assumed to parse an error frame.
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("server: malformed frame from device %s, ignoring: %v", c.deviceID, err)
		return
	}

	handler, ok := c.server.handlers[probe.Type]
	if !ok {
		// Unknown types are ignored, not errored: newer app builds may
		// speak kinds this host does not know yet.
		log.Printf("server: ignoring unknown message type %q from device %s", probe.Type, c.deviceID)
		return
	}

	if !c.server.bypassAuth[probe.Type] {
		if !c.isAuthenticated() {
			c.sendError(apperrors.CodeAuthRequired, "authentication required")
			return
		}
		if !c.server.limiter.Allow(c.deviceID) {
			// Silent drop. An error frame here would let a flooding peer
			// turn the limiter into an amplifier.
			log.Printf("server: rate limit exceeded for device %s, dropping %s", c.deviceID, probe.Type)
			return
		}
	}

	handler(c, raw)
}

// sendError queues an error frame with a stable machine-readable code.
func (c *Client) sendError(code, message string) {
	c.sendFrame(marshalFrame(errorFrame{
		baseFrame: c.server.newBase(MessageTypeError),
		Error:     code,
		Message:   message,
	}))
}

// teardown releases everything tied to this session: the server's client
// set, per-device limiter and sync-tracker state, and any pending batch.
// Batched frames die with the session; the device re-requests on
// reconnect, so delivering stale frames to a new session would only
// confuse it.
func (c *Client) teardown() {
	c.cancelPairTimer()
	c.closeSend()

	s := c.server
	s.mu.Lock()
	_, registered := s.clients[c]
	if registered {
		delete(s.clients, c)
		s.batcher.Discard(c.deviceID)
	}
	s.mu.Unlock()

	// A session replaced by a reconnect is already unregistered; its
	// per-device state now belongs to the new session and must survive.
	if registered {
		s.limiter.Forget(c.deviceID)
		s.tracker.Forget(c.deviceID)
	}

	log.Printf("server: device %s disconnected", c.deviceID)
}

// writePump owns all writes to the connection: queued frames, periodic
// pings, and the final close frame. Single writer per connection, as the
// transport requires.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("server: write error for device %s: %v", c.deviceID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Drain anything already queued so notices like unpaired or
			// pairing_timeout reach the peer before the close frame.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.TextMessage, frame)
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
