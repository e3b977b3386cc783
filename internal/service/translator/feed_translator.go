package translator

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/shopspring/decimal"
)

// Translate extracts the top-of-book quote for key from a decoded frame.
// It returns nil when the frame carries no bid/ask levels for the key, which is
// normal for pre-market, index and greeks-only frames.
func Translate(msg *entity.DecodedFeedMessage, key entity.InstrumentKey) *entity.NormalizedTick {
	if msg == nil {
		return nil
	}

	feed, ok := lookupFeed(msg.Feeds, key)
	if !ok || feed.FullFeed == nil || feed.FullFeed.MarketFF == nil || feed.FullFeed.MarketFF.MarketLevel == nil {
		return nil
	}

	quotes := feed.FullFeed.MarketFF.MarketLevel.BidAskQuote
	if len(quotes) == 0 {
		return nil
	}

	best := quotes[0]
	timestamp := time.Now().UTC()
	if msg.CurrentTs > 0 {
		timestamp = time.UnixMilli(msg.CurrentTs).UTC()
	}

	return &entity.NormalizedTick{
		InstrumentKey: key,
		BidPrice:      decimal.NewFromFloat(best.BidP),
		AskPrice:      decimal.NewFromFloat(best.AskP),
		BidQty:        null.NewInt(best.BidQ, best.BidQ > 0),
		AskQty:        null.NewInt(best.AskQ, best.AskQ > 0),
		Timestamp:     timestamp,
	}
}

// MarketClosed reports whether the frame marks the key's segment as closed for the day.
func MarketClosed(msg *entity.DecodedFeedMessage, key entity.InstrumentKey) bool {
	if msg == nil || msg.MarketInfo == nil {
		return false
	}

	status, ok := msg.MarketInfo.SegmentStatus[key.Segment()]
	return ok && status == constant.SegmentStatusClosingEnd
}

// lookupFeed prefers the exact key. A connection only ever subscribes one key,
// so a single entry under another identifier still belongs to it.
func lookupFeed(feeds map[string]entity.FeedPayload, key entity.InstrumentKey) (entity.FeedPayload, bool) {
	if feed, ok := feeds[string(key)]; ok {
		return feed, true
	}

	if len(feeds) != 1 {
		return entity.FeedPayload{}, false
	}

	for _, feed := range feeds {
		return feed, true
	}

	return entity.FeedPayload{}, false
}
