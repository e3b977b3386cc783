package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/infrastructure"
	"github.com/krobus00/market-feed-service/internal/repository"
	"github.com/krobus00/market-feed-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartWatchlist(cmd *cobra.Command, args []string) {
	actionType, _ := cmd.Flags().GetString("action")
	rawKeys, _ := cmd.Flags().GetStringSlice("instrument-key")
	description, _ := cmd.Flags().GetString("description")

	ctx := context.Background()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database[constant.MarketFeedDatabase])
	util.ContinueOrFatal(err)
	defer func() {
		_ = infrastructure.ClosePostgres(db)
	}()

	repo := repository.NewFeedSubscriptionRepository(db)

	keys, err := parseInstrumentKeys(rawKeys)
	util.ContinueOrFatal(err)

	switch actionType {
	case "add":
		err = addWatchlist(ctx, repo, keys, description)
	case "disable":
		err = disableWatchlist(ctx, repo, keys)
	case "list":
		err = listWatchlist(ctx, repo)
	default:
		err = errors.New("invalid command")
	}

	util.ContinueOrFatal(err)
}

func addWatchlist(ctx context.Context, repo *repository.FeedSubscriptionRepository, keys []entity.InstrumentKey, description string) error {
	if len(keys) == 0 {
		return errors.New("at least one --instrument-key is required")
	}

	for _, key := range keys {
		item, err := repo.Upsert(ctx, key, description)
		if err != nil {
			return fmt.Errorf("add %s: %w", key, err)
		}
		logrus.WithFields(logrus.Fields{
			"id":             item.ID,
			"instrument_key": item.InstrumentKey,
		}).Info("watchlist key active")
	}

	return nil
}

func disableWatchlist(ctx context.Context, repo *repository.FeedSubscriptionRepository, keys []entity.InstrumentKey) error {
	if len(keys) == 0 {
		return errors.New("at least one --instrument-key is required")
	}

	for _, key := range keys {
		disabled, err := repo.Disable(ctx, key)
		if err != nil {
			return fmt.Errorf("disable %s: %w", key, err)
		}
		if !disabled {
			logrus.WithField("instrument_key", key).Warn("watchlist key not found or already disabled")
			continue
		}
		logrus.WithField("instrument_key", key).Info("watchlist key disabled")
	}

	return nil
}

func listWatchlist(ctx context.Context, repo *repository.FeedSubscriptionRepository) error {
	items, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return err
		}
	}

	return nil
}
