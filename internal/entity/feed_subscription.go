package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

// FeedSubscription is a watchlist entry the gateway subscribes to on start.
type FeedSubscription struct {
	ID            string      `db:"id" json:"id"`
	InstrumentKey string      `db:"instrument_key" json:"instrument_key"`
	Description   null.String `db:"description" json:"description"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	DisabledAt    null.Time   `db:"disabled_at" json:"disabled_at"`
}

func (f FeedSubscription) TableName() string {
	return "feed_subscriptions"
}
