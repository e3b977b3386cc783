package entity

// DecodedFeedMessage is one decoded upstream frame. Field names follow the
// JSON mapping of the feed schema; 64-bit integers arrive as quoted strings.
type DecodedFeedMessage struct {
	Type       int                    `json:"type"`
	Feeds      map[string]FeedPayload `json:"feeds"`
	CurrentTs  int64                  `json:"currentTs,string"`
	MarketInfo *MarketInfo            `json:"marketInfo"`
}

type MarketInfo struct {
	// SegmentStatus maps a market segment (NSE_EQ, NSE_FO, ...) to its numeric status.
	SegmentStatus map[string]int `json:"segmentStatus"`
}

type FeedPayload struct {
	Ltpc                 *LTPC                 `json:"ltpc"`
	FullFeed             *FullFeed             `json:"fullFeed"`
	FirstLevelWithGreeks *FirstLevelWithGreeks `json:"firstLevelWithGreeks"`
	RequestMode          int                   `json:"requestMode"`
}

type FullFeed struct {
	MarketFF *MarketFullFeed `json:"marketFF"`
	IndexFF  *IndexFullFeed  `json:"indexFF"`
}

type MarketFullFeed struct {
	Ltpc         *LTPC         `json:"ltpc"`
	MarketLevel  *MarketLevel  `json:"marketLevel"`
	OptionGreeks *OptionGreeks `json:"optionGreeks"`
	Atp          float64       `json:"atp"`
	Vtt          int64         `json:"vtt,string"`
	Oi           float64       `json:"oi"`
	Iv           float64       `json:"iv"`
	Tbq          float64       `json:"tbq"`
	Tsq          float64       `json:"tsq"`
}

type IndexFullFeed struct {
	Ltpc *LTPC `json:"ltpc"`
}

type FirstLevelWithGreeks struct {
	Ltpc         *LTPC         `json:"ltpc"`
	FirstDepth   *Quote        `json:"firstDepth"`
	OptionGreeks *OptionGreeks `json:"optionGreeks"`
	Vtt          int64         `json:"vtt,string"`
	Oi           float64       `json:"oi"`
	Iv           float64       `json:"iv"`
}

type MarketLevel struct {
	BidAskQuote []Quote `json:"bidAskQuote"`
}

type Quote struct {
	BidQ int64   `json:"bidQ,string"`
	BidP float64 `json:"bidP"`
	AskQ int64   `json:"askQ,string"`
	AskP float64 `json:"askP"`
}

type LTPC struct {
	Ltp float64 `json:"ltp"`
	Ltt int64   `json:"ltt,string"`
	Ltq int64   `json:"ltq,string"`
	Cp  float64 `json:"cp"`
}

type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}
