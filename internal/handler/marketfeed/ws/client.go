package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"

	MessageAck      = "ack"
	MessageError    = "error"
	MessageTick     = "tick"
	MessageSnapshot = "snapshot"
	MessageNotice   = "notice"
)

type Command struct {
	ID             string   `json:"id"`
	Action         string   `json:"action"`
	InstrumentKeys []string `json:"instrument_keys"`
}

type Message struct {
	Type           string   `json:"type"`
	ID             string   `json:"id,omitempty"`
	Action         string   `json:"action,omitempty"`
	InstrumentKeys []string `json:"instrument_keys,omitempty"`
	Error          string   `json:"error,omitempty"`
	Data           any      `json:"data,omitempty"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	logger  *logrus.Entry

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, h *Handler) *client {
	id := uuid.NewString()
	return &client{
		id:      id,
		conn:    conn,
		handler: h,
		logger: logrus.WithFields(logrus.Fields{
			"client_id":   id,
			"remote_addr": conn.RemoteAddr().String(),
		}),
		send: make(chan []byte, h.cfg.SendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *client) Deliver(tick entity.NormalizedTick) {
	c.enqueue(Message{Type: MessageTick, Data: tick.Event()})
}

func (c *client) Notify(notice entity.FeedNotice) {
	c.enqueue(Message{Type: MessageNotice, Data: notice.Event()})
}

// enqueue never blocks. A slow client loses messages once its buffer is full.
func (c *client) enqueue(message Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.WithError(err).Error("encode stream message failed")
		return
	}

	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.logger.WithField("type", message.Type).Warn("stream client buffer full, dropping message")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
		defer cancel()
		if err := c.handler.registry.UnsubscribeAll(ctx, c); err != nil {
			c.logger.WithError(err).Warn("release stream client subscriptions failed")
		}
		c.close()
	}()

	c.conn.SetReadLimit(c.handler.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("stream client read failed")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.enqueue(Message{Type: MessageError, Error: "invalid json"})
			continue
		}

		c.handle(cmd)
	}
}

func (c *client) handle(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
	defer cancel()

	action := strings.ToLower(strings.TrimSpace(cmd.Action))
	switch action {
	case ActionSubscribe:
		c.subscribe(ctx, cmd)
	case ActionUnsubscribe:
		keys, ok := c.parseKeys(cmd)
		if !ok {
			return
		}
		for _, key := range keys {
			if err := c.handler.registry.Unsubscribe(ctx, key, c); err != nil {
				c.reject(cmd, err.Error())
				return
			}
		}
		c.ack(cmd, keys)
	case ActionUnsubscribeAll:
		if err := c.handler.registry.UnsubscribeAll(ctx, c); err != nil {
			c.reject(cmd, err.Error())
			return
		}
		c.ack(cmd, nil)
	default:
		c.reject(cmd, "unknown action")
	}
}

// subscribe primes the client with the cached tick of each key before it
// starts receiving live ticks.
func (c *client) subscribe(ctx context.Context, cmd Command) {
	keys, ok := c.parseKeys(cmd)
	if !ok {
		return
	}

	subscribed := make([]entity.InstrumentKey, 0, len(keys))
	for _, key := range keys {
		c.sendSnapshot(ctx, key)

		if err := c.handler.registry.Subscribe(ctx, key, c); err != nil {
			c.logger.WithField("instrument_key", key).WithError(err).Warn("stream subscribe failed")
			c.enqueue(Message{
				Type:           MessageError,
				ID:             cmd.ID,
				Action:         ActionSubscribe,
				InstrumentKeys: []string{key.String()},
				Error:          err.Error(),
			})
			continue
		}
		subscribed = append(subscribed, key)
	}

	if len(subscribed) > 0 {
		c.ack(cmd, subscribed)
	}
}

func (c *client) sendSnapshot(ctx context.Context, key entity.InstrumentKey) {
	if c.handler.snapshots == nil {
		return
	}

	event, found, err := c.handler.snapshots.Load(ctx, key)
	if err != nil {
		c.logger.WithField("instrument_key", key).WithError(err).Warn("load snapshot failed")
		return
	}
	if found {
		c.enqueue(Message{Type: MessageSnapshot, Data: event})
	}
}

func (c *client) parseKeys(cmd Command) ([]entity.InstrumentKey, bool) {
	if len(cmd.InstrumentKeys) == 0 {
		c.reject(cmd, "instrument_keys is required")
		return nil, false
	}

	keys := make([]entity.InstrumentKey, 0, len(cmd.InstrumentKeys))
	seen := make(map[entity.InstrumentKey]struct{}, len(cmd.InstrumentKeys))
	for _, raw := range cmd.InstrumentKeys {
		key := entity.InstrumentKey(strings.TrimSpace(raw))
		if !key.Valid() {
			c.reject(cmd, entity.ErrInvalidInstrumentKey.Error()+": "+raw)
			return nil, false
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys, true
}

func (c *client) ack(cmd Command, keys []entity.InstrumentKey) {
	message := Message{Type: MessageAck, ID: cmd.ID, Action: cmd.Action}
	for _, key := range keys {
		message.InstrumentKeys = append(message.InstrumentKeys, key.String())
	}
	c.enqueue(message)
}

func (c *client) reject(cmd Command, reason string) {
	c.enqueue(Message{Type: MessageError, ID: cmd.ID, Action: cmd.Action, Error: reason})
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.handler.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.handler.cfg.WriteWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.handler.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}
