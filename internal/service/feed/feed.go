package feed

import (
	"context"
	"net/http"

	"github.com/krobus00/market-feed-service/internal/entity"
)

// Authorizer hands out a fresh single-use stream URL per call.
type Authorizer interface {
	GetStreamURL(ctx context.Context) (string, error)
	Header() http.Header
}

type Decoder interface {
	Decode(rawFrame []byte) (*entity.DecodedFeedMessage, error)
}

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type SessionEventKind int

const (
	SessionEventStateChanged SessionEventKind = iota + 1
	SessionEventTick
	SessionEventTerminated
)

// SessionEvent is posted by a session to the owner of its events channel.
// A terminated event carries either entity.ConnectionStateFailed or
// entity.ConnectionStateIdle (graceful market close) as State.
type SessionEvent struct {
	Kind      SessionEventKind
	Key       entity.InstrumentKey
	SessionID uint64
	State     entity.ConnectionState
	Attempt   int
	Reason    string
	Tick      *entity.NormalizedTick
	Err       error
}
