package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout  = 2 * time.Second
	quietTimeout = 150 * time.Millisecond
)

type fakeAuthorizer struct {
	mu    sync.Mutex
	calls int
	errs  []error

	gate    chan struct{}
	started chan struct{}
}

func newFakeAuthorizer(errs ...error) *fakeAuthorizer {
	return &fakeAuthorizer{errs: errs, started: make(chan struct{}, 64)}
}

func (a *fakeAuthorizer) GetStreamURL(ctx context.Context) (string, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	var err error
	if len(a.errs) > 0 {
		err, a.errs = a.errs[0], a.errs[1:]
	}
	gate := a.gate
	a.mu.Unlock()

	select {
	case a.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err != nil {
		return "", err
	}
	return fmt.Sprintf("wss://feed.test/stream?code=%d", call), nil
}

func (a *fakeAuthorizer) Header() http.Header {
	return http.Header{"Authorization": []string{"Bearer test"}}
}

func (a *fakeAuthorizer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	open    int
	maxOpen int
	dialErr error

	// block holds every dial until it is closed or the dial is canceled.
	block   chan struct{}
	dialing chan struct{}

	conns chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 64), dialing: make(chan struct{}, 64)}
}

func (tr *fakeTransport) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tr.mu.Lock()
	tr.dials++
	block := tr.block
	tr.mu.Unlock()

	select {
	case tr.dialing <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tr.mu.Lock()
	if tr.dialErr != nil {
		err := tr.dialErr
		tr.mu.Unlock()
		return nil, err
	}
	tr.open++
	if tr.open > tr.maxOpen {
		tr.maxOpen = tr.open
	}
	tr.mu.Unlock()

	conn := &fakeConn{
		transport: tr,
		inbound:   make(chan []byte, 64),
		writes:    make(chan []byte, 64),
		closed:    make(chan struct{}),
		failed:    make(chan struct{}),
	}
	tr.conns <- conn
	return conn, nil
}

func (tr *fakeTransport) SetDialErr(err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.dialErr = err
}

func (tr *fakeTransport) Dials() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.dials
}

func (tr *fakeTransport) MaxOpen() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.maxOpen
}

func (tr *fakeTransport) released() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.open--
}

// next waits for the next dialed connection and returns it with the
// instrument key of the subscribe frame written on it.
func (tr *fakeTransport) next(t *testing.T) (*fakeConn, entity.InstrumentKey) {
	t.Helper()

	var conn *fakeConn
	select {
	case conn = <-tr.conns:
	case <-time.After(waitTimeout):
		t.Fatal("no upstream connection was dialed")
	}

	select {
	case frame := <-conn.writes:
		var req subscribeRequest
		require.NoError(t, json.Unmarshal(frame, &req))
		require.Len(t, req.Data.InstrumentKeys, 1)
		return conn, entity.InstrumentKey(req.Data.InstrumentKeys[0])
	case <-time.After(waitTimeout):
		t.Fatal("no subscribe frame was written")
	}

	return nil, ""
}

func (tr *fakeTransport) expectNoDial(t *testing.T) {
	t.Helper()
	select {
	case <-tr.conns:
		t.Fatal("unexpected upstream connection")
	case <-time.After(quietTimeout):
	}
}

type fakeConn struct {
	transport *fakeTransport
	inbound   chan []byte
	writes    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	failOnce  sync.Once
	failed    chan struct{}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	case c.writes <- data:
		return nil
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case <-c.failed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
	case message := <-c.inbound:
		return websocket.BinaryMessage, message, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.transport.released()
	})
	return nil
}

func (c *fakeConn) send(message []byte) {
	c.inbound <- message
}

func (c *fakeConn) fail() {
	c.failOnce.Do(func() { close(c.failed) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDecoder reads frames as the JSON mapping of the feed schema.
type fakeDecoder struct{}

func (fakeDecoder) Decode(rawFrame []byte) (*entity.DecodedFeedMessage, error) {
	msg := &entity.DecodedFeedMessage{}
	if err := json.Unmarshal(rawFrame, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrDecode, err)
	}
	return msg, nil
}

func quoteFrame(t *testing.T, key entity.InstrumentKey, bid, ask float64) []byte {
	t.Helper()
	frame, err := json.Marshal(entity.DecodedFeedMessage{
		Type:      1,
		CurrentTs: time.Now().UnixMilli(),
		Feeds: map[string]entity.FeedPayload{
			string(key): {FullFeed: &entity.FullFeed{MarketFF: &entity.MarketFullFeed{
				MarketLevel: &entity.MarketLevel{BidAskQuote: []entity.Quote{{BidP: bid, AskP: ask, BidQ: 10, AskQ: 20}}},
			}}},
		},
	})
	require.NoError(t, err)
	return frame
}

func closedFrame(t *testing.T, segment string) []byte {
	t.Helper()
	frame, err := json.Marshal(entity.DecodedFeedMessage{
		Type:       2,
		MarketInfo: &entity.MarketInfo{SegmentStatus: map[string]int{segment: 5}},
	})
	require.NoError(t, err)
	return frame
}

type fakeConsumer struct {
	name    string
	ticks   chan entity.NormalizedTick
	notices chan entity.FeedNotice
}

func newFakeConsumer(name string) *fakeConsumer {
	return &fakeConsumer{
		name:    name,
		ticks:   make(chan entity.NormalizedTick, 64),
		notices: make(chan entity.FeedNotice, 8),
	}
}

func (c *fakeConsumer) Deliver(tick entity.NormalizedTick) {
	select {
	case c.ticks <- tick:
	default:
	}
}

func (c *fakeConsumer) Notify(notice entity.FeedNotice) {
	select {
	case c.notices <- notice:
	default:
	}
}

func (c *fakeConsumer) nextTick(t *testing.T) entity.NormalizedTick {
	t.Helper()
	select {
	case tick := <-c.ticks:
		return tick
	case <-time.After(waitTimeout):
		t.Fatalf("consumer %s received no tick", c.name)
	}
	return entity.NormalizedTick{}
}

func (c *fakeConsumer) expectNoTick(t *testing.T) {
	t.Helper()
	select {
	case tick := <-c.ticks:
		t.Fatalf("consumer %s received unexpected tick %+v", c.name, tick)
	case <-time.After(quietTimeout):
	}
}

func (c *fakeConsumer) nextNotice(t *testing.T) entity.FeedNotice {
	t.Helper()
	select {
	case notice := <-c.notices:
		return notice
	case <-time.After(waitTimeout):
		t.Fatalf("consumer %s received no notice", c.name)
	}
	return entity.FeedNotice{}
}

func (c *fakeConsumer) expectNoNotice(t *testing.T) {
	t.Helper()
	select {
	case notice := <-c.notices:
		t.Fatalf("consumer %s received unexpected notice %+v", c.name, notice)
	case <-time.After(quietTimeout):
	}
}

func newTestRegistry(t *testing.T, cfg ManagerConfig, authorizer Authorizer, transport Transport) (*FanoutRegistry, *ConnectionManager) {
	t.Helper()

	manager := NewConnectionManager(cfg, authorizer, transport, fakeDecoder{})
	registry := NewFanoutRegistry(manager, 64)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = registry.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-registry.Done()
	})

	return registry, manager
}
