/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-feed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// marketFeedGatewayCmd represents the market-feed-gateway command
var marketFeedGatewayCmd = &cobra.Command{
	Use:   "market-feed-gateway",
	Short: "Market feed gateway service",
	Long: `Market Feed Gateway multiplexes upstream market data feeds to downstream consumers.

This service:
- Opens one upstream connection per subscribed instrument key
- Normalizes every frame into a top-of-book tick
- Streams ticks to websocket clients and the market_feed jetstream stream
- Keeps the latest tick of every key in redis
- Subscribes the watchlist stored in postgres on start`,
	Run: bootstrap.StartMarketFeedGateway,
}

func init() {
	rootCmd.AddCommand(marketFeedGatewayCmd)
}
