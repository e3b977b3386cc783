/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-feed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// feedTailCmd represents the feed-tail command
var feedTailCmd = &cobra.Command{
	Use:   "feed-tail",
	Short: "print normalized ticks as json lines",
	Long: `print normalized ticks of one or more instrument keys to stdout.

With --replay, frames captured as json lines are decoded offline instead of
connecting to the upstream feed.`,
	Run: bootstrap.StartFeedTail,
}

func init() {
	rootCmd.AddCommand(feedTailCmd)
	feedTailCmd.Flags().StringSlice("instrument-key", nil, "instrument key, e.g. NSE_EQ|INE002A01018 (repeatable)")
	feedTailCmd.Flags().String("replay", "", "replay captured frames from a json lines file")
}
