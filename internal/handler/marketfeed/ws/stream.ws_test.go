package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/guregu/null/v6"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey  = "desk-key"
	relianceKey = entity.InstrumentKey("NSE_EQ|INE002A01018")
	infosysKey  = entity.InstrumentKey("NSE_EQ|INE009A01021")
)

type fakeRegistry struct {
	mu           sync.Mutex
	consumers    map[entity.InstrumentKey]map[entity.Consumer]struct{}
	subscribeErr map[entity.InstrumentKey]error
	released     chan entity.Consumer
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		consumers:    make(map[entity.InstrumentKey]map[entity.Consumer]struct{}),
		subscribeErr: make(map[entity.InstrumentKey]error),
		released:     make(chan entity.Consumer, 8),
	}
}

func (f *fakeRegistry) Subscribe(_ context.Context, key entity.InstrumentKey, consumer entity.Consumer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subscribeErr[key]; err != nil {
		return err
	}
	if f.consumers[key] == nil {
		f.consumers[key] = make(map[entity.Consumer]struct{})
	}
	f.consumers[key][consumer] = struct{}{}
	return nil
}

func (f *fakeRegistry) Unsubscribe(_ context.Context, key entity.InstrumentKey, consumer entity.Consumer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.consumers[key], consumer)
	return nil
}

func (f *fakeRegistry) UnsubscribeAll(_ context.Context, consumer entity.Consumer) error {
	f.mu.Lock()
	for key := range f.consumers {
		delete(f.consumers[key], consumer)
	}
	f.mu.Unlock()

	f.released <- consumer
	return nil
}

func (f *fakeRegistry) count(key entity.InstrumentKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.consumers[key])
}

func (f *fakeRegistry) deliver(tick entity.NormalizedTick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for consumer := range f.consumers[tick.InstrumentKey] {
		consumer.Deliver(tick)
	}
}

func (f *fakeRegistry) notify(notice entity.FeedNotice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for consumer := range f.consumers[notice.InstrumentKey] {
		consumer.Notify(notice)
	}
}

type fakeSnapshots map[entity.InstrumentKey]entity.TickEvent

func (f fakeSnapshots) Load(_ context.Context, key entity.InstrumentKey) (entity.TickEvent, bool, error) {
	event, ok := f[key]
	return event, ok, nil
}

type received struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	InstrumentKeys []string        `json:"instrument_keys"`
	Error          string          `json:"error"`
	Data           json.RawMessage `json:"data"`
}

func newStreamServer(t *testing.T, registry Registry, snapshots SnapshotLoader) string {
	t.Helper()

	previous := config.Env
	t.Cleanup(func() { config.Env = previous })
	config.Env = &config.EnvConfig{APIKeys: []config.APIKeyConfig{{Name: "desk", Key: testAPIKey, Active: true}}}

	mux := http.NewServeMux()
	NewStreamHandler(registry, snapshots, DefaultClientConfig()).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/market-feed/v1/stream"
}

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": []string{testAPIKey}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var message received
	require.NoError(t, json.Unmarshal(payload, &message))
	return message
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

func TestStream_RejectsMissingAPIKey(t *testing.T) {
	url := newStreamServer(t, newFakeRegistry(), nil)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?api_key="+testAPIKey, nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestStream_SubscribeReceivesSnapshotThenTicks(t *testing.T) {
	registry := newFakeRegistry()
	snapshots := fakeSnapshots{
		relianceKey: {InstrumentKey: string(relianceKey), BuyPrice: 100.5, SellPrice: 100.75, Timestamp: 1718000000000},
	}
	conn := dialStream(t, newStreamServer(t, registry, snapshots))

	sendCommand(t, conn, Command{ID: "1", Action: ActionSubscribe, InstrumentKeys: []string{string(relianceKey)}})

	snapshot := readMessage(t, conn)
	assert.Equal(t, MessageSnapshot, snapshot.Type)
	assert.JSONEq(t, `{"instrument_key":"NSE_EQ|INE002A01018","buy_price":100.5,"sell_price":100.75,"bid_qty":null,"ask_qty":null,"timestamp":1718000000000}`, string(snapshot.Data))

	ack := readMessage(t, conn)
	assert.Equal(t, MessageAck, ack.Type)
	assert.Equal(t, "1", ack.ID)
	assert.Equal(t, []string{string(relianceKey)}, ack.InstrumentKeys)
	assert.Equal(t, 1, registry.count(relianceKey))

	registry.deliver(entity.NormalizedTick{
		InstrumentKey: relianceKey,
		BidPrice:      decimal.RequireFromString("101"),
		AskPrice:      decimal.RequireFromString("101.25"),
		BidQty:        null.IntFrom(5),
		Timestamp:     time.UnixMilli(1718000000500),
	})

	tick := readMessage(t, conn)
	assert.Equal(t, MessageTick, tick.Type)
	assert.JSONEq(t, `{"instrument_key":"NSE_EQ|INE002A01018","buy_price":101,"sell_price":101.25,"bid_qty":5,"ask_qty":null,"timestamp":1718000000500}`, string(tick.Data))

	registry.notify(entity.FeedNotice{InstrumentKey: relianceKey, Kind: entity.NoticeMarketClosed})
	notice := readMessage(t, conn)
	assert.Equal(t, MessageNotice, notice.Type)
	assert.JSONEq(t, `{"instrument_key":"NSE_EQ|INE002A01018","kind":"market_closed"}`, string(notice.Data))
}

func TestStream_Commands(t *testing.T) {
	registry := newFakeRegistry()
	registry.subscribeErr[infosysKey] = errors.New("fan-out registry is stopped")
	conn := dialStream(t, newStreamServer(t, registry, nil))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	message := readMessage(t, conn)
	assert.Equal(t, MessageError, message.Type)
	assert.Equal(t, "invalid json", message.Error)

	sendCommand(t, conn, Command{ID: "2", Action: "resubscribe"})
	message = readMessage(t, conn)
	assert.Equal(t, MessageError, message.Type)
	assert.Equal(t, "unknown action", message.Error)

	sendCommand(t, conn, Command{ID: "3", Action: ActionSubscribe, InstrumentKeys: []string{"INE002A01018"}})
	message = readMessage(t, conn)
	assert.Equal(t, MessageError, message.Type)
	assert.Contains(t, message.Error, entity.ErrInvalidInstrumentKey.Error())

	sendCommand(t, conn, Command{ID: "4", Action: ActionSubscribe})
	message = readMessage(t, conn)
	assert.Equal(t, MessageError, message.Type)
	assert.Equal(t, "instrument_keys is required", message.Error)

	sendCommand(t, conn, Command{ID: "5", Action: ActionSubscribe, InstrumentKeys: []string{string(infosysKey), string(relianceKey), string(relianceKey)}})
	message = readMessage(t, conn)
	assert.Equal(t, MessageError, message.Type)
	assert.Equal(t, []string{string(infosysKey)}, message.InstrumentKeys)
	message = readMessage(t, conn)
	assert.Equal(t, MessageAck, message.Type)
	assert.Equal(t, []string{string(relianceKey)}, message.InstrumentKeys)

	sendCommand(t, conn, Command{ID: "6", Action: ActionUnsubscribe, InstrumentKeys: []string{string(relianceKey)}})
	message = readMessage(t, conn)
	assert.Equal(t, MessageAck, message.Type)
	assert.Equal(t, 0, registry.count(relianceKey))

	sendCommand(t, conn, Command{ID: "7", Action: ActionUnsubscribeAll})
	message = readMessage(t, conn)
	assert.Equal(t, MessageAck, message.Type)
	assert.Equal(t, "7", message.ID)
	<-registry.released
}

func TestStream_DisconnectReleasesSubscriptions(t *testing.T) {
	registry := newFakeRegistry()
	conn := dialStream(t, newStreamServer(t, registry, nil))

	sendCommand(t, conn, Command{ID: "1", Action: ActionSubscribe, InstrumentKeys: []string{string(relianceKey), string(infosysKey)}})
	readMessage(t, conn)
	assert.Equal(t, 1, registry.count(relianceKey))

	require.NoError(t, conn.Close())

	select {
	case <-registry.released:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriptions were not released on disconnect")
	}
	assert.Equal(t, 0, registry.count(relianceKey))
	assert.Equal(t, 0, registry.count(infosysKey))
}

func TestClient_DropsWhenBufferFull(t *testing.T) {
	c := &client{
		logger: logrus.NewEntry(logrus.StandardLogger()),
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
	}

	tick := entity.NormalizedTick{InstrumentKey: relianceKey, BidPrice: decimal.NewFromInt(1), AskPrice: decimal.NewFromInt(2)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			c.Deliver(tick)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on a full buffer")
	}
	assert.Len(t, c.send, 1)
}
