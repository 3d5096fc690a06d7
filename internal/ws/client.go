package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/apperr"
	"github.com/zaqqye/bustrack/internal/authz"
	"github.com/zaqqye/bustrack/internal/metrics"
	"github.com/zaqqye/bustrack/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Gate authorizes room joins and client hints.
type Gate interface {
	CanObserve(ctx context.Context, caller authz.Caller, busID uint) (models.Bus, error)
	CanIngest(ctx context.Context, caller authz.Caller, busID uint) (models.Bus, error)
}

type client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	caller authz.Caller
	gate   Gate
	opts   Options
}

func newClient(hub *Hub, conn *websocket.Conn, caller authz.Caller, gate Gate, opts Options) *client {
	return &client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		caller: caller,
		gate:   gate,
		opts:   opts,
	}
}

func (c *client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump owns the connection's lifetime: when it returns the client is
// removed from every room.
func (c *client) readPump() {
	metrics.ConnectedClients.Inc()
	defer func() {
		c.hub.Disconnect(c)
		c.Close()
		c.conn.Close()
		metrics.ConnectedClients.Dec()
		log.Debug().Str("conn", c.id).Msg("ws: client disconnected")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("ws: read error")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(EventError, errorPayload{Message: "malformed frame"})
			continue
		}
		c.handle(env)
	}
}

func (c *client) handle(env Envelope) {
	switch env.Event {
	case EventJoin:
		var ref BusRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			c.reply(EventError, errorPayload{Message: err.Error()})
			return
		}
		busID := uint(ref)
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
		defer cancel()
		if _, err := c.gate.CanObserve(ctx, c.caller, busID); err != nil {
			c.reply(EventError, errorPayload{Message: apperr.Message(err), BusID: busID})
			return
		}
		if !c.hub.Join(c, busID) {
			c.reply(EventError, errorPayload{Message: "connection is closing", BusID: busID})
			return
		}
		c.reply(EventJoined, busID)
	case EventLeave:
		var ref BusRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			c.reply(EventError, errorPayload{Message: err.Error()})
			return
		}
		c.hub.Leave(c, uint(ref))
		c.reply(EventLeft, uint(ref))
	case EventLocation:
		c.handleHint(env.Data)
	default:
		c.reply(EventError, errorPayload{Message: "unknown event " + env.Event})
	}
}

// handleHint forwards a client-originated location to the bus room. The
// event is never stored and is flagged as a hint for receivers.
func (c *client) handleHint(data json.RawMessage) {
	if !c.opts.AllowClientHints {
		c.reply(EventError, errorPayload{Message: "client location updates are disabled; use POST /api/gps"})
		return
	}
	var p hintPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.reply(EventError, errorPayload{Message: err.Error()})
		return
	}
	if err := p.validate(); err != nil {
		c.reply(EventError, errorPayload{Message: err.Error(), BusID: uint(p.BusID)})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
	defer cancel()
	bus, err := c.gate.CanIngest(ctx, c.caller, uint(p.BusID))
	if err != nil {
		c.reply(EventError, errorPayload{Message: apperr.Message(err), BusID: uint(p.BusID)})
		return
	}
	if !bus.TrackingEnabled {
		c.reply(EventError, errorPayload{Message: "tracking disabled for this bus", BusID: bus.ID})
		return
	}
	c.hub.Publish(bus.ID, p.event(time.Now().UTC()))
}

func (c *client) reply(event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("conn", c.id).Msg("ws: encode reply failed")
		return
	}
	if !c.Send(payload) {
		c.Close()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				log.Debug().Err(err).Str("conn", c.id).Msg("ws: close write failed")
			}
			return
		}
	}
}
