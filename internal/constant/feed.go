package constant

import "strings"

const (
	FeedAuthorizePath = "/v3/feed/market-data-feed/authorize"

	FeedSubscribeMethod   = "sub"
	FeedUnsubscribeMethod = "unsub"
	FeedModeFull          = "full"

	// FeedRootMessage is the root message type of every inbound frame.
	FeedRootMessage = "FeedResponse"

	// SegmentStatusClosingEnd is the market status code reported once a segment
	// has closed for the day.
	SegmentStatusClosingEnd = 5
)

const (
	MarketFeedStreamName          = "market_feed"
	MarketFeedStreamSubjectAll    = "market_feed.>"
	MarketFeedStreamSubjectTick   = "market_feed.tick"
	MarketFeedStreamSubjectNotice = "market_feed.notice"
)

const (
	MarketFeedDatabase  = "market_feed"
	MarketFeedRedis     = "market_feed"
	MarketFeedHealthKey = "market_feed"

	TickSnapshotKeyPrefix = "market_feed:tick:"
)

const (
	HTTPPortKey = "http"
	GRPCPortKey = "grpc"
)

var tickSubjectReplacer = strings.NewReplacer("|", ".", " ", "_", ".", "_", "*", "_", ">", "_")

// MarketFeedTickSubject maps an instrument key onto a nats subject, so
// NSE_EQ|INE002A01018 publishes to market_feed.tick.NSE_EQ.INE002A01018.
func MarketFeedTickSubject(instrumentKey string) string {
	return MarketFeedStreamSubjectTick + "." + tickSubjectReplacer.Replace(instrumentKey)
}
