package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	httpHandler "github.com/krobus00/market-feed-service/internal/handler/marketfeed/http"
	wsHandler "github.com/krobus00/market-feed-service/internal/handler/marketfeed/ws"
	"github.com/krobus00/market-feed-service/internal/infrastructure"
	"github.com/krobus00/market-feed-service/internal/repository"
	"github.com/krobus00/market-feed-service/internal/service/authorizer"
	"github.com/krobus00/market-feed-service/internal/service/feed"
	"github.com/krobus00/market-feed-service/internal/service/schema"
	"github.com/krobus00/market-feed-service/internal/service/sink"
	"github.com/krobus00/market-feed-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartMarketFeedGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedConfig := config.Env.Feed.WithDefaults()

	schemaRegistry := schema.NewRegistry(feedConfig.SchemaPath)
	util.ContinueOrFatal(schemaRegistry.Initialize(ctx))

	feedAuthorizer := authorizer.NewFeedAuthorizer(feedConfig, &http.Client{})
	transport := infrastructure.NewWebsocketTransport(feedConfig.HandshakeTimeout, feedConfig.PingInterval)
	manager := feed.NewConnectionManager(feed.ManagerConfigFromFeed(feedConfig), feedAuthorizer, transport, schemaRegistry)
	registry := feed.NewFanoutRegistry(manager, feedConfig.EventBufferSize)

	go func() {
		if err := registry.Run(ctx); err != nil {
			logrus.WithError(err).Error("fan-out registry stopped")
		}
	}()

	checks := map[string]httpHandler.ReadinessCheck{
		"schema": schemaRegistry.Initialize,
		"registry": func(context.Context) error {
			select {
			case <-registry.Done():
				return entity.ErrRegistryStopped
			default:
				return nil
			}
		},
	}

	var (
		db             *sqlx.DB
		redisClient    *redis.Client
		nc             *nats.Conn
		snapshotLoader wsHandler.SnapshotLoader
		sinks          []entity.Consumer
	)

	dbConfig, ok := config.Env.Database[constant.MarketFeedDatabase]
	if ok && strings.TrimSpace(dbConfig.DSN) != "" {
		var err error
		db, err = infrastructure.NewPostgresConnection(ctx, dbConfig)
		util.ContinueOrFatal(err)
		infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)
		checks["postgres"] = db.PingContext
	}

	redisConfig, ok := config.Env.Redis[constant.MarketFeedRedis]
	if ok && strings.TrimSpace(redisConfig.CacheDSN) != "" {
		var err error
		redisClient, err = infrastructure.NewRedisClient(ctx, redisConfig)
		util.ContinueOrFatal(err)

		snapshots := sink.NewRedisSnapshotStore(redisClient, redisConfig.SnapshotTTL, redisConfig.SnapshotBufferSize)
		go snapshots.Run(ctx)

		snapshotLoader = snapshots
		sinks = append(sinks, snapshots)
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	if strings.TrimSpace(config.Env.NatsJetstream.URL) != "" {
		var (
			js  nats.JetStreamContext
			err error
		)
		nc, js, err = infrastructure.NewJetstream(config.Env.NatsJetstream)
		util.ContinueOrFatal(err)

		publisher := sink.NewJetstreamTickPublisher(js, config.Env.NatsJetstream.PublishBufferSize)
		publishers := []entity.Publisher{publisher}
		for _, v := range publishers {
			err = v.JetstreamEventInit(ctx)
			util.ContinueOrFatal(err)
		}
		go publisher.Run(ctx)

		sinks = append(sinks, publisher)
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats is not connected")
			}
			return nil
		}
	}

	if db != nil {
		subscribeWatchlist(ctx, repository.NewFeedSubscriptionRepository(db), registry, sinks)
	}

	httpMux := http.NewServeMux()
	httpHandler.NewMarketFeedHTTPHandler(registry, snapshotLoader, checks).Register(httpMux)
	wsHandler.NewStreamHandler(registry, snapshotLoader, wsHandler.DefaultClientConfig()).Register(httpMux)

	httpServer := infrastructure.NewHTTPServer(httpMux)
	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	grpcServer := infrastructure.NewGRPCServer(config.Env.Port[constant.GRPCPortKey], config.Env.Env == constant.DevelopmentEnvironment)
	grpcServer.SetServing(constant.MarketFeedHealthKey, true)
	go func() {
		if err := grpcServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"fan-out registry": func(ctx context.Context) error {
			grpcServer.SetServing(constant.MarketFeedHealthKey, false)
			cancel()
			select {
			case <-registry.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"grpc": func(ctx context.Context) error {
			return grpcServer.Shutdown(ctx)
		},
		"database": func(ctx context.Context) error {
			return infrastructure.ClosePostgres(db)
		},
		"redis": func(ctx context.Context) error {
			return infrastructure.CloseRedis(redisClient)
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

// subscribeWatchlist attaches every sink to each active watchlist key.
func subscribeWatchlist(ctx context.Context, repo *repository.FeedSubscriptionRepository, registry *feed.FanoutRegistry, sinks []entity.Consumer) {
	if len(sinks) == 0 {
		logrus.Warn("no tick sink configured, skipping watchlist")
		return
	}

	watchlist, err := repo.GetActive(ctx)
	if err != nil {
		logrus.WithError(err).Error("load watchlist failed")
		return
	}

	for _, item := range watchlist {
		key := entity.InstrumentKey(item.InstrumentKey)
		for _, consumer := range sinks {
			if err := registry.Subscribe(ctx, key, consumer); err != nil {
				logrus.WithField("instrument_key", key).WithError(err).Error("subscribe watchlist key failed")
			}
		}
	}

	logrus.WithField("keys", len(watchlist)).Info("watchlist subscribed")
}
