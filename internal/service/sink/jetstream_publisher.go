package sink

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// JetStream is the part of nats.JetStreamContext the tick publisher uses.
type JetStream interface {
	util.AsyncPublisher
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

const defaultPublishBufferSize = 4096

type publishJob struct {
	key     entity.InstrumentKey
	subject string
	data    any
}

// JetstreamTickPublisher republishes every tick and notice it receives onto
// the market_feed stream. Deliver and Notify only queue the event; the worker
// started with Run publishes it. Events are dropped when the queue is full.
type JetstreamTickPublisher struct {
	js     JetStream
	maxAge time.Duration
	queue  chan publishJob
}

func NewJetstreamTickPublisher(js JetStream, bufferSize int) *JetstreamTickPublisher {
	if bufferSize <= 0 {
		bufferSize = defaultPublishBufferSize
	}

	return &JetstreamTickPublisher{
		js:     js,
		maxAge: time.Hour,
		queue:  make(chan publishJob, bufferSize),
	}
}

func (p *JetstreamTickPublisher) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.MarketFeedStreamName,
		Subjects:  []string{constant.MarketFeedStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.MemoryStorage,
		Discard:   nats.DiscardOld,
		MaxAge:    p.maxAge,
	}

	stream, err := p.js.StreamInfo(constant.MarketFeedStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	if stream == nil {
		logrus.WithField("stream", constant.MarketFeedStreamName).Info("creating stream")
		_, err = p.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.WithField("stream", constant.MarketFeedStreamName).Info("updating stream")
	_, err = p.js.UpdateStream(streamConfig, nats.Context(ctx))
	return err
}

// Run publishes queued events until ctx is done.
func (p *JetstreamTickPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if err := util.PublishEvent(p.js, job.subject, job.data); err != nil {
				logrus.WithFields(logrus.Fields{
					"instrument_key": job.key,
					"subject":        job.subject,
				}).WithError(err).Warn("publish market feed event failed")
			}
		}
	}
}

func (p *JetstreamTickPublisher) Deliver(tick entity.NormalizedTick) {
	p.enqueue(publishJob{
		key:     tick.InstrumentKey,
		subject: constant.MarketFeedTickSubject(tick.InstrumentKey.String()),
		data:    tick.Event(),
	})
}

func (p *JetstreamTickPublisher) Notify(notice entity.FeedNotice) {
	p.enqueue(publishJob{
		key:     notice.InstrumentKey,
		subject: constant.MarketFeedStreamSubjectNotice,
		data:    notice.Event(),
	})
}

func (p *JetstreamTickPublisher) enqueue(job publishJob) {
	select {
	case p.queue <- job:
	default:
		logrus.WithFields(logrus.Fields{
			"instrument_key": job.key,
			"subject":        job.subject,
		}).Warn("publish queue full, dropping market feed event")
	}
}
