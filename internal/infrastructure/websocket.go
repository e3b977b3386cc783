package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/service/feed"
	"github.com/sirupsen/logrus"
)

const (
	defaultWebsocketHandshakeTimeout = 10 * time.Second
	defaultWebsocketPingInterval     = 2 * time.Minute
	defaultWebsocketWriteWait        = 5 * time.Second
)

// WebsocketTransport dials upstream feed sockets. Every connection it returns
// keeps itself alive with a ping loop that stops when the connection closes.
type WebsocketTransport struct {
	dialer       *websocket.Dialer
	pingInterval time.Duration
}

func NewWebsocketTransport(handshakeTimeout, pingInterval time.Duration) *WebsocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultWebsocketHandshakeTimeout
	}
	if pingInterval <= 0 {
		pingInterval = defaultWebsocketPingInterval
	}

	return &WebsocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		pingInterval: pingInterval,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, url string, header http.Header) (feed.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	wrapped := &websocketConn{
		Conn: conn,
		done: make(chan struct{}),
	}
	go wrapped.pingLoop(t.pingInterval)

	return wrapped, nil
}

type websocketConn struct {
	*websocket.Conn

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *websocketConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(defaultWebsocketWriteWait)
			if err := c.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logrus.WithError(err).Warn("market feed ping failed")
				return
			}
		}
	}
}

// Close is safe to call more than once and from any goroutine.
func (c *websocketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
