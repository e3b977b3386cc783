package sink

import (
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const defaultNoticeBufferSize = 64

type lineEvent struct {
	Type   string              `json:"type"`
	Tick   *entity.TickEvent   `json:"tick,omitempty"`
	Notice *entity.NoticeEvent `json:"notice,omitempty"`
}

// LineWriter prints every tick and notice as one JSON document per line.
type LineWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	notices chan entity.FeedNotice
}

// NewLineWriter buffers up to noticeBufferSize notices for Notices. Each key
// ends with at most one notice, so sizing it to the key count never drops one.
func NewLineWriter(w io.Writer, noticeBufferSize int) *LineWriter {
	if noticeBufferSize <= 0 {
		noticeBufferSize = defaultNoticeBufferSize
	}

	return &LineWriter{
		encoder: json.NewEncoder(w),
		notices: make(chan entity.FeedNotice, noticeBufferSize),
	}
}

// Notices yields every notice written, so callers can stop once all keys ended.
func (l *LineWriter) Notices() <-chan entity.FeedNotice {
	return l.notices
}

func (l *LineWriter) Deliver(tick entity.NormalizedTick) {
	event := tick.Event()
	l.write(lineEvent{Type: "tick", Tick: &event})
}

func (l *LineWriter) Notify(notice entity.FeedNotice) {
	event := notice.Event()
	l.write(lineEvent{Type: "notice", Notice: &event})

	select {
	case l.notices <- notice:
	default:
	}
}

func (l *LineWriter) write(event lineEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(event); err != nil {
		logrus.WithError(err).Warn("write feed line failed")
	}
}
