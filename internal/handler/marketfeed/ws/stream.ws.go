package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/handler/auth"
	"github.com/sirupsen/logrus"
)

const (
	defaultWriteWait      = 5 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultPingPeriod     = 50 * time.Second
	defaultSendBufferSize = 256
	defaultMaxMessageSize = 64 * 1024
	defaultCommandTimeout = 5 * time.Second
)

type Registry interface {
	Subscribe(ctx context.Context, key entity.InstrumentKey, consumer entity.Consumer) error
	Unsubscribe(ctx context.Context, key entity.InstrumentKey, consumer entity.Consumer) error
	UnsubscribeAll(ctx context.Context, consumer entity.Consumer) error
}

type SnapshotLoader interface {
	Load(ctx context.Context, key entity.InstrumentKey) (entity.TickEvent, bool, error)
}

type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	SendBufferSize int
	MaxMessageSize int64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      defaultWriteWait,
		PongWait:       defaultPongWait,
		PingPeriod:     defaultPingPeriod,
		SendBufferSize: defaultSendBufferSize,
		MaxMessageSize: defaultMaxMessageSize,
	}
}

// Handler upgrades downstream clients onto the tick stream. Every client is a
// registry consumer of the keys it subscribes to.
type Handler struct {
	registry  Registry
	snapshots SnapshotLoader
	cfg       ClientConfig
	upgrader  websocket.Upgrader
}

func NewStreamHandler(registry Registry, snapshots SnapshotLoader, cfg ClientConfig) *Handler {
	defaults := DefaultClientConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	return &Handler{
		registry:  registry,
		snapshots: snapshots,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/market-feed/v1/stream", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := auth.ValidateAPIKey(auth.ResolveAPIKey(r)); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("stream upgrade failed")
		return
	}

	c := newClient(conn, h)
	c.logger.Info("stream client connected")

	go c.writePump()
	c.readPump()

	c.logger.Info("stream client disconnected")
}
