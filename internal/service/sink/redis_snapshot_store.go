package sink

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultSnapshotTTL        = 24 * time.Hour
	defaultSnapshotBufferSize = 1024
	defaultSnapshotWriteWait  = 2 * time.Second
)

type snapshotWrite struct {
	key   entity.InstrumentKey
	event *entity.TickEvent
}

// RedisSnapshotStore keeps the latest tick of every instrument key so new
// downstream clients can be primed before the next live tick arrives.
// Deliver and Notify never block: writes are queued to a worker started with
// Run and dropped when the queue is full.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
	queue  chan snapshotWrite
}

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration, bufferSize int) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if bufferSize <= 0 {
		bufferSize = defaultSnapshotBufferSize
	}

	return &RedisSnapshotStore{
		client: client,
		ttl:    ttl,
		queue:  make(chan snapshotWrite, bufferSize),
	}
}

func snapshotKey(key entity.InstrumentKey) string {
	return constant.TickSnapshotKeyPrefix + key.String()
}

// Run writes queued ticks until ctx is done.
func (s *RedisSnapshotStore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case write := <-s.queue:
			if err := s.apply(ctx, write); err != nil && ctx.Err() == nil {
				logrus.WithField("instrument_key", write.key).WithError(err).Warn("write tick snapshot failed")
			}
		}
	}
}

func (s *RedisSnapshotStore) apply(ctx context.Context, write snapshotWrite) error {
	writeCtx, cancel := context.WithTimeout(ctx, defaultSnapshotWriteWait)
	defer cancel()

	if write.event == nil {
		return s.client.Del(writeCtx, snapshotKey(write.key)).Err()
	}

	payload, err := json.Marshal(write.event)
	if err != nil {
		return err
	}

	return s.client.Set(writeCtx, snapshotKey(write.key), payload, s.ttl).Err()
}

// Load returns the last stored tick for key.
func (s *RedisSnapshotStore) Load(ctx context.Context, key entity.InstrumentKey) (entity.TickEvent, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.TickEvent{}, false, nil
		}
		return entity.TickEvent{}, false, err
	}

	var event entity.TickEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return entity.TickEvent{}, false, err
	}

	return event, true, nil
}

func (s *RedisSnapshotStore) Deliver(tick entity.NormalizedTick) {
	event := tick.Event()
	s.enqueue(snapshotWrite{key: tick.InstrumentKey, event: &event})
}

// Notify forgets the snapshot of a key whose feed failed. A market close keeps
// the closing quote.
func (s *RedisSnapshotStore) Notify(notice entity.FeedNotice) {
	if notice.Kind != entity.NoticeFailed {
		return
	}
	s.enqueue(snapshotWrite{key: notice.InstrumentKey})
}

func (s *RedisSnapshotStore) enqueue(write snapshotWrite) {
	select {
	case s.queue <- write:
	default:
		logrus.WithField("instrument_key", write.key).Warn("tick snapshot queue full, dropping write")
	}
}
