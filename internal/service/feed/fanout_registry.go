package feed

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

type subscription struct {
	sessionID uint64
	state     entity.ConnectionState
	attempt   int
	consumers map[entity.Consumer]struct{}
}

// FanoutRegistry maps instrument keys to their consumers and shares one
// upstream connection per key. All state is owned by the goroutine running
// Run; public methods post requests to it and wait for the result.
type FanoutRegistry struct {
	manager *ConnectionManager

	requests      chan func(ctx context.Context)
	events        chan SessionEvent
	subscriptions map[entity.InstrumentKey]*subscription

	startOnce sync.Once
	done      chan struct{}
}

func NewFanoutRegistry(manager *ConnectionManager, eventBufferSize int) *FanoutRegistry {
	if eventBufferSize <= 0 {
		eventBufferSize = 1
	}

	return &FanoutRegistry{
		manager:       manager,
		requests:      make(chan func(ctx context.Context)),
		events:        make(chan SessionEvent, eventBufferSize),
		subscriptions: make(map[entity.InstrumentKey]*subscription),
		done:          make(chan struct{}),
	}
}

// Run processes requests and session events until ctx is canceled, then tears
// down every upstream connection. It must be called once.
func (r *FanoutRegistry) Run(ctx context.Context) error {
	started := false
	r.startOnce.Do(func() { started = true })
	if !started {
		return entity.ErrRegistryStopped
	}
	defer close(r.done)

	logrus.Info("fan-out registry started")

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			logrus.Info("fan-out registry stopped")
			return nil
		case fn := <-r.requests:
			fn(ctx)
		case event := <-r.events:
			r.handleSessionEvent(event)
		}
	}
}

func (r *FanoutRegistry) Done() <-chan struct{} {
	return r.done
}

// Subscribe attaches consumer to key, opening the upstream connection for the
// first consumer. Subscribing the same consumer twice is a no-op.
func (r *FanoutRegistry) Subscribe(ctx context.Context, key entity.InstrumentKey, consumer entity.Consumer) error {
	if !key.Valid() {
		return entity.ErrInvalidInstrumentKey
	}

	var err error
	doErr := r.do(ctx, func(loopCtx context.Context) {
		sub, ok := r.subscriptions[key]
		if ok {
			sub.consumers[consumer] = struct{}{}
			return
		}

		sessionID, connectErr := r.manager.Connect(loopCtx, key, r.events)
		if connectErr != nil {
			err = connectErr
			return
		}

		r.subscriptions[key] = &subscription{
			sessionID: sessionID,
			state:     entity.ConnectionStateIdle,
			consumers: map[entity.Consumer]struct{}{consumer: {}},
		}
		logrus.WithField("instrument_key", key).Info("upstream subscription opened")
	})
	if doErr != nil {
		return doErr
	}

	return err
}

// Unsubscribe detaches consumer from key and closes the upstream connection
// once no consumers remain. Unknown keys and consumers are ignored.
func (r *FanoutRegistry) Unsubscribe(ctx context.Context, key entity.InstrumentKey, consumer entity.Consumer) error {
	return r.do(ctx, func(context.Context) {
		r.detach(key, consumer)
	})
}

// UnsubscribeAll detaches consumer from every key it holds.
func (r *FanoutRegistry) UnsubscribeAll(ctx context.Context, consumer entity.Consumer) error {
	return r.do(ctx, func(context.Context) {
		for key, sub := range r.subscriptions {
			if _, ok := sub.consumers[consumer]; ok {
				r.detach(key, consumer)
			}
		}
	})
}

func (r *FanoutRegistry) ConsumerCount(ctx context.Context, key entity.InstrumentKey) (int, error) {
	count := 0
	err := r.do(ctx, func(context.Context) {
		if sub, ok := r.subscriptions[key]; ok {
			count = len(sub.consumers)
		}
	})
	return count, err
}

// Subscriptions returns the state of every active key, ordered by key.
func (r *FanoutRegistry) Subscriptions(ctx context.Context) ([]entity.SubscriptionStatus, error) {
	var statuses []entity.SubscriptionStatus
	err := r.do(ctx, func(context.Context) {
		statuses = make([]entity.SubscriptionStatus, 0, len(r.subscriptions))
		for key, sub := range r.subscriptions {
			statuses = append(statuses, entity.SubscriptionStatus{
				InstrumentKey: key,
				State:         sub.state,
				Consumers:     len(sub.consumers),
				Attempt:       sub.attempt,
			})
		}
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(statuses, func(a, b entity.SubscriptionStatus) int {
		return strings.Compare(string(a.InstrumentKey), string(b.InstrumentKey))
	})

	return statuses, nil
}

func (r *FanoutRegistry) do(ctx context.Context, fn func(ctx context.Context)) error {
	finished := make(chan struct{})
	request := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}

	select {
	case r.requests <- request:
	case <-r.done:
		return entity.ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

func (r *FanoutRegistry) detach(key entity.InstrumentKey, consumer entity.Consumer) {
	sub, ok := r.subscriptions[key]
	if !ok {
		return
	}

	delete(sub.consumers, consumer)
	if len(sub.consumers) > 0 {
		return
	}

	delete(r.subscriptions, key)
	r.manager.Disconnect(key, "no consumers left")
	logrus.WithField("instrument_key", key).Info("upstream subscription released")
}

func (r *FanoutRegistry) handleSessionEvent(event SessionEvent) {
	sub, ok := r.subscriptions[event.Key]
	if !ok || sub.sessionID != event.SessionID {
		return
	}

	switch event.Kind {
	case SessionEventStateChanged:
		sub.state = event.State
		sub.attempt = event.Attempt
	case SessionEventTick:
		if event.Tick == nil {
			return
		}
		for consumer := range sub.consumers {
			consumer.Deliver(*event.Tick)
		}
	case SessionEventTerminated:
		notice := entity.FeedNotice{
			InstrumentKey: event.Key,
			Kind:          entity.NoticeFailed,
			Err:           event.Err,
		}
		if event.State != entity.ConnectionStateFailed {
			notice.Kind = entity.NoticeMarketClosed
		}

		for consumer := range sub.consumers {
			consumer.Notify(notice)
		}

		delete(r.subscriptions, event.Key)
		r.manager.Disconnect(event.Key, event.Reason)

		logrus.WithFields(logrus.Fields{
			"instrument_key": event.Key,
			"notice":         notice.Kind,
			"consumers":      len(sub.consumers),
		}).Warn("upstream subscription terminated")
	}
}

func (r *FanoutRegistry) shutdown() {
	for key := range r.subscriptions {
		delete(r.subscriptions, key)
	}
	r.manager.DisconnectAll("shutdown")
}
