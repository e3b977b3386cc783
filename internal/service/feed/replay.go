package feed

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/service/translator"
	"github.com/sirupsen/logrus"
)

const maxReplayLineBytes = 4 << 20

// Codec turns the JSON mapping of a frame back into wire bytes and decodes it.
type Codec interface {
	Decoder
	Encode(jsonFrame []byte) ([]byte, error)
}

// Replay pushes captured frames, one JSON document per line, through the same
// decode and translate path a live session uses and hands the result to
// consumer. With no keys, every key present in a frame is replayed. Like a
// live session, a frame's quote is delivered before its closed status is
// checked, and a key stops producing ticks once its segment is closed.
// Replay returns the number of frames decoded.
func Replay(ctx context.Context, src io.Reader, codec Codec, keys []entity.InstrumentKey, consumer entity.Consumer) (int, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)

	closed := make(map[entity.InstrumentKey]bool)
	decoded := 0
	line := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return decoded, err
		}
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		logger := logrus.WithField("line", line)

		frame, err := codec.Encode(raw)
		if err != nil {
			logger.WithError(err).Warn("skipping unparsable replay line")
			continue
		}

		msg, err := codec.Decode(frame)
		if err != nil {
			logger.WithError(err).Warn("skipping undecodable replay frame")
			continue
		}
		decoded++

		targets := keys
		if len(targets) == 0 {
			targets = frameKeys(msg)
		}

		for _, key := range targets {
			if closed[key] {
				continue
			}

			// captures may interleave instruments, so only exact entries count
			if _, ok := msg.Feeds[key.String()]; ok {
				if tick := translator.Translate(msg, key); tick != nil {
					consumer.Deliver(*tick)
				}
			}

			if translator.MarketClosed(msg, key) {
				closed[key] = true
				consumer.Notify(entity.FeedNotice{InstrumentKey: key, Kind: entity.NoticeMarketClosed})
			}
		}
	}

	return decoded, scanner.Err()
}

func frameKeys(msg *entity.DecodedFeedMessage) []entity.InstrumentKey {
	keys := make([]entity.InstrumentKey, 0, len(msg.Feeds))
	for raw := range msg.Feeds {
		keys = append(keys, entity.InstrumentKey(raw))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
