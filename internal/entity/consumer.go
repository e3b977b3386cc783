package entity

// Consumer receives normalized ticks for the instrument keys it is subscribed to.
// Deliver and Notify are invoked from the registry event loop and must not block.
type Consumer interface {
	Deliver(tick NormalizedTick)
	Notify(notice FeedNotice)
}

type NoticeKind string

const (
	// NoticeFailed is sent once when a key is torn down after its retry budget is
	// spent or its credential was rejected.
	NoticeFailed NoticeKind = "failed"
	// NoticeMarketClosed is sent once when the upstream reports the key's segment closed.
	NoticeMarketClosed NoticeKind = "market_closed"
)

type FeedNotice struct {
	InstrumentKey InstrumentKey
	Kind          NoticeKind
	Err           error
}

type NoticeEvent struct {
	InstrumentKey string `json:"instrument_key"`
	Kind          string `json:"kind"`
	Error         string `json:"error,omitempty"`
}

func (n FeedNotice) Event() NoticeEvent {
	event := NoticeEvent{
		InstrumentKey: string(n.InstrumentKey),
		Kind:          string(n.Kind),
	}
	if n.Err != nil {
		event.Error = n.Err.Error()
	}
	return event
}
