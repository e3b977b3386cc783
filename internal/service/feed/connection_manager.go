package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyConnected = errors.New("instrument key already has an upstream connection")

type ManagerConfig struct {
	MaxAttempts    int
	BaseRetryDelay time.Duration
}

func ManagerConfigFromFeed(cfg config.FeedConfig) ManagerConfig {
	cfg = cfg.WithDefaults()
	return ManagerConfig{
		MaxAttempts:    cfg.MaxAttempts,
		BaseRetryDelay: cfg.BaseRetryDelay,
	}
}

// ConnectionManager owns at most one upstream session per instrument key and
// drives each session through authorize, connect, subscribe and stream, with
// bounded linear backoff between failed attempts.
type ConnectionManager struct {
	cfg        ManagerConfig
	authorizer Authorizer
	transport  Transport
	decoder    Decoder

	mu       sync.Mutex
	sessions map[entity.InstrumentKey]*session
	lastID   uint64
}

func NewConnectionManager(cfg ManagerConfig, authorizer Authorizer, transport Transport, decoder Decoder) *ConnectionManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseRetryDelay < 0 {
		cfg.BaseRetryDelay = 0
	}

	return &ConnectionManager{
		cfg:        cfg,
		authorizer: authorizer,
		transport:  transport,
		decoder:    decoder,
		sessions:   make(map[entity.InstrumentKey]*session),
	}
}

// Connect starts a session for key. Session events are posted to events until
// the session terminates or ctx is canceled. A terminated session keeps its
// slot until the owner calls Disconnect, so a key never has two live sockets.
func (m *ConnectionManager) Connect(ctx context.Context, key entity.InstrumentKey, events chan<- SessionEvent) (uint64, error) {
	m.mu.Lock()
	if _, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return 0, ErrAlreadyConnected
	}

	m.lastID++
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      m.lastID,
		key:     key,
		manager: m,
		events:  events,
		ctx:     sessionCtx,
		cancel:  cancel,
		logger:  logrus.WithField("instrument_key", key),
	}
	m.sessions[key] = s
	m.mu.Unlock()

	go s.run()

	return s.id, nil
}

// Disconnect cancels the session for key, aborting any in-flight authorize or
// dial, and closes its socket. It reports whether a session existed.
func (m *ConnectionManager) Disconnect(key entity.InstrumentKey, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.logger.WithFields(logrus.Fields{
		"state":  entity.ConnectionStateClosing,
		"reason": reason,
	}).Info("closing market feed connection")

	s.stop()

	s.logger.WithField("state", entity.ConnectionStateIdle).Info("market feed connection closed")

	return true
}

// DisconnectAll tears down every session, used on shutdown.
func (m *ConnectionManager) DisconnectAll(reason string) {
	m.mu.Lock()
	keys := make([]entity.InstrumentKey, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.Disconnect(key, reason)
	}
}

func (m *ConnectionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *ConnectionManager) retryDelay(attempt int) time.Duration {
	return m.cfg.BaseRetryDelay * time.Duration(attempt)
}
