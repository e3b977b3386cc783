package entity

import (
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// InstrumentKey identifies a tradable instrument as EXCHANGE|SYMBOL_OR_ISIN.
// It is passed to the upstream feed exactly as supplied.
type InstrumentKey string

func (k InstrumentKey) String() string {
	return string(k)
}

// Segment returns the market segment prefix of the key, e.g. NSE_EQ for NSE_EQ|INE002A01018.
func (k InstrumentKey) Segment() string {
	segment, _, found := strings.Cut(string(k), "|")
	if !found {
		return ""
	}
	return segment
}

func (k InstrumentKey) Valid() bool {
	segment, symbol, found := strings.Cut(string(k), "|")
	return found && segment != "" && symbol != ""
}

// NormalizedTick is the only market data representation handed to consumers.
type NormalizedTick struct {
	InstrumentKey InstrumentKey
	BidPrice      decimal.Decimal
	AskPrice      decimal.Decimal
	BidQty        null.Int
	AskQty        null.Int
	Timestamp     time.Time
}

// TickEvent is the wire shape of a NormalizedTick for downstream sockets,
// the tick stream and the snapshot cache.
type TickEvent struct {
	InstrumentKey string   `json:"instrument_key"`
	BuyPrice      float64  `json:"buy_price"`
	SellPrice     float64  `json:"sell_price"`
	BidQty        null.Int `json:"bid_qty"`
	AskQty        null.Int `json:"ask_qty"`
	Timestamp     int64    `json:"timestamp"`
}

func (t NormalizedTick) Event() TickEvent {
	return TickEvent{
		InstrumentKey: string(t.InstrumentKey),
		BuyPrice:      t.BidPrice.InexactFloat64(),
		SellPrice:     t.AskPrice.InexactFloat64(),
		BidQty:        t.BidQty,
		AskQty:        t.AskQty,
		Timestamp:     t.Timestamp.UnixMilli(),
	}
}
