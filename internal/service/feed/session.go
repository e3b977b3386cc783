package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/service/translator"
	"github.com/sirupsen/logrus"
)

var errMarketClosed = errors.New("market closed for the day")

type subscribeRequest struct {
	GUID   string        `json:"guid"`
	Method string        `json:"method"`
	Data   subscribeData `json:"data"`
}

type subscribeData struct {
	Mode           string   `json:"mode"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

func subscribeFrame(key entity.InstrumentKey) ([]byte, error) {
	return json.Marshal(subscribeRequest{
		GUID:   uuid.NewString(),
		Method: constant.FeedSubscribeMethod,
		Data: subscribeData{
			Mode:           constant.FeedModeFull,
			InstrumentKeys: []string{string(key)},
		},
	})
}

type session struct {
	id      uint64
	key     entity.InstrumentKey
	manager *ConnectionManager
	events  chan<- SessionEvent
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    Conn
	stopped bool
}

func (s *session) run() {
	failures := 0

	for {
		streamed, err := s.attempt(failures + 1)
		if s.ctx.Err() != nil {
			return
		}

		if errors.Is(err, errMarketClosed) {
			s.transition(entity.ConnectionStateClosing, 0, err.Error())
			s.terminate(entity.ConnectionStateIdle, err)
			return
		}

		if streamed {
			failures = 0
		}
		failures++

		// a rejected credential fails every attempt, so the key fails without
		// spending its retries
		if errors.Is(err, entity.ErrInvalidCredential) {
			s.transition(entity.ConnectionStateFailed, failures, err.Error())
			s.terminate(entity.ConnectionStateFailed, err)
			return
		}

		if failures >= s.manager.cfg.MaxAttempts {
			s.transition(entity.ConnectionStateFailed, failures, err.Error())
			s.terminate(entity.ConnectionStateFailed, fmt.Errorf("%w after %d attempts: %w", entity.ErrRetriesExhausted, failures, err))
			return
		}

		s.transition(entity.ConnectionStateRetrying, failures, err.Error())
		if !s.sleep(s.manager.retryDelay(failures)) {
			return
		}
	}
}

// attempt performs one authorize, dial, subscribe and read cycle. streamed
// reports whether the cycle reached the streaming state before it ended.
func (s *session) attempt(attempt int) (streamed bool, err error) {
	s.transition(entity.ConnectionStateAuthorizing, attempt, "")
	streamURL, err := s.manager.authorizer.GetStreamURL(s.ctx)
	if err != nil {
		return false, err
	}

	s.transition(entity.ConnectionStateConnecting, attempt, "")
	conn, err := s.manager.transport.Dial(s.ctx, streamURL, s.manager.authorizer.Header())
	if err != nil {
		return false, fmt.Errorf("%w: dial: %w", entity.ErrConnection, err)
	}
	if !s.attach(conn) {
		return false, context.Canceled
	}
	defer s.detach(conn)

	s.transition(entity.ConnectionStateOpen, attempt, "")
	frame, err := subscribeFrame(s.key)
	if err != nil {
		return false, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return false, fmt.Errorf("%w: subscribe: %w", entity.ErrConnection, err)
	}

	s.transition(entity.ConnectionStateStreaming, attempt, "")
	return true, s.read(conn)
}

func (s *session) read(conn Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			return fmt.Errorf("%w: read: %w", entity.ErrConnection, err)
		}

		decoded, err := s.manager.decoder.Decode(message)
		if err != nil {
			s.logger.WithError(err).Warn("drop undecodable feed frame")
			continue
		}

		if tick := translator.Translate(decoded, s.key); tick != nil {
			s.emit(SessionEvent{Kind: SessionEventTick, Tick: tick})
		}

		if translator.MarketClosed(decoded, s.key) {
			return errMarketClosed
		}
	}
}

func (s *session) attach(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *session) detach(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *session) stop() {
	s.mu.Lock()
	s.stopped = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *session) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) transition(state entity.ConnectionState, attempt int, reason string) {
	logger := s.logger.WithFields(logrus.Fields{
		"state":   state,
		"attempt": attempt,
	})
	if reason != "" {
		logger = logger.WithField("reason", reason)
	}

	switch state {
	case entity.ConnectionStateRetrying, entity.ConnectionStateFailed:
		logger.Warn("market feed connection state changed")
	default:
		logger.Info("market feed connection state changed")
	}

	s.emit(SessionEvent{
		Kind:    SessionEventStateChanged,
		State:   state,
		Attempt: attempt,
		Reason:  reason,
	})
}

func (s *session) terminate(state entity.ConnectionState, err error) {
	s.emit(SessionEvent{
		Kind:   SessionEventTerminated,
		State:  state,
		Reason: err.Error(),
		Err:    err,
	})
}

func (s *session) emit(event SessionEvent) {
	event.Key = s.key
	event.SessionID = s.id

	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}
