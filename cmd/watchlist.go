/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-feed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// watchlistCmd represents the watchlist command
var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "manage the instrument keys the gateway subscribes on start",
	Long:  `manage the instrument keys the gateway subscribes on start`,
	Run:   bootstrap.StartWatchlist,
}

func init() {
	rootCmd.AddCommand(watchlistCmd)
	watchlistCmd.Flags().String("action", "list", "action add|disable|list")
	watchlistCmd.Flags().StringSlice("instrument-key", nil, "instrument key (repeatable)")
	watchlistCmd.Flags().String("description", "", "description stored with added keys")
}
