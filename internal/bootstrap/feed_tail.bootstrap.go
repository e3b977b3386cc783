package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/infrastructure"
	"github.com/krobus00/market-feed-service/internal/service/authorizer"
	"github.com/krobus00/market-feed-service/internal/service/feed"
	"github.com/krobus00/market-feed-service/internal/service/schema"
	"github.com/krobus00/market-feed-service/internal/service/sink"
	"github.com/krobus00/market-feed-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartFeedTail prints normalized ticks of the given keys to stdout, one JSON
// document per line. It exits once every key has ended or on a signal.
func StartFeedTail(cmd *cobra.Command, args []string) {
	rawKeys, _ := cmd.Flags().GetStringSlice("instrument-key")
	replayPath, _ := cmd.Flags().GetString("replay")

	keys, err := parseInstrumentKeys(rawKeys)
	util.ContinueOrFatal(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feedConfig := config.Env.Feed.WithDefaults()
	schemaRegistry := schema.NewRegistry(feedConfig.SchemaPath)
	util.ContinueOrFatal(schemaRegistry.Initialize(ctx))

	writer := sink.NewLineWriter(os.Stdout, len(keys))

	if strings.TrimSpace(replayPath) != "" {
		util.ContinueOrFatal(replayFeed(ctx, replayPath, schemaRegistry, keys, writer))
		return
	}

	if len(keys) == 0 {
		util.ContinueOrFatal(errors.New("at least one --instrument-key is required"))
	}

	feedAuthorizer := authorizer.NewFeedAuthorizer(feedConfig, &http.Client{})
	transport := infrastructure.NewWebsocketTransport(feedConfig.HandshakeTimeout, feedConfig.PingInterval)
	manager := feed.NewConnectionManager(feed.ManagerConfigFromFeed(feedConfig), feedAuthorizer, transport, schemaRegistry)
	registry := feed.NewFanoutRegistry(manager, feedConfig.EventBufferSize)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = registry.Run(runCtx)
	}()

	remaining := make(map[entity.InstrumentKey]struct{}, len(keys))
	for _, key := range keys {
		util.ContinueOrFatal(registry.Subscribe(ctx, key, writer))
		remaining[key] = struct{}{}
	}

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			logrus.Info("feed tail interrupted")
			remaining = nil
		case notice := <-writer.Notices():
			delete(remaining, notice.InstrumentKey)
		}
	}

	cancel()
	<-registry.Done()
}

func replayFeed(ctx context.Context, path string, codec feed.Codec, keys []entity.InstrumentKey, writer *sink.LineWriter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	decoded, err := feed.Replay(ctx, file, codec, keys, writer)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"file":   path,
		"frames": decoded,
	}).Info("replay finished")

	return nil
}

func parseInstrumentKeys(raw []string) ([]entity.InstrumentKey, error) {
	keys := make([]entity.InstrumentKey, 0, len(raw))
	seen := make(map[entity.InstrumentKey]struct{}, len(raw))
	for _, value := range raw {
		key := entity.InstrumentKey(strings.TrimSpace(value))
		if !key.Valid() {
			return nil, fmt.Errorf("%w: %q", entity.ErrInvalidInstrumentKey, value)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}
