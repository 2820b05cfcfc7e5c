package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
	"github.com/sandwich-labs/gatewaycore/gateway"
	"github.com/sandwich-labs/gatewaycore/handlers"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	token := flag.String("token", "", "token the bot will use to authenticate")
	shardCount := flag.Int("shards", 1, "shard count to use; 0 means autoshard")
	clusterCount := flag.Int("clusters", 1, "how many clusters are running")
	clusterID := flag.Int("cluster", 0, "this process's cluster id")
	redisAddress := flag.String("redis", "127.0.0.1:6379", "redis address")
	natsAddress := flag.String("nats", "127.0.0.1:4222", "nats address")
	prefix := flag.String("prefix", "gatewaycore", "redis key prefix")
	flag.Parse()

	registry := events.NewRegistry()
	cache := handlers.NewCache(redis.NewClient(&redis.Options{Addr: *redisAddress}), *prefix, zlog)

	lifecycle := events.LifecycleListenerFunc(func(e events.LifecycleEvent) {
		switch e.Kind {
		case events.LifecycleReady:
			zlog.Info().Int("shard_id", e.ShardID).Msg("shard ready")
		case events.LifecycleReconnected:
			zlog.Info().Int("shard_id", e.ShardID).Msg("shard reconnected")
		case events.LifecycleResumed:
			zlog.Info().Int("shard_id", e.ShardID).Msg("shard resumed")
		case events.LifecycleDisconnect:
			zlog.Warn().Int("shard_id", e.ShardID).Int("close_code", e.CloseCode).Err(e.Err).Msg("shard disconnected")
		case events.LifecycleShutdown:
			zlog.Warn().Int("shard_id", e.ShardID).Int("close_code", e.CloseCode).Msg("shard shut down")
		case events.LifecycleException:
			zlog.Error().Int("shard_id", e.ShardID).Err(e.Err).Msg("handler exception")
		}
	})

	manager, err := gateway.NewManager(
		gateway.Configuration{
			Token:                   *token,
			MaxConcurrentIdentifies: 1,
			MaxHeartbeatFailures:    5,
			AutoSharded:             *shardCount == 0,
			ShardCount:              *shardCount,
			ClusterCount:            *clusterCount,
			ClusterID:               *clusterID,
			Redis: struct {
				Address  string `json:"address"`
				Password string `json:"password"`
				Database int    `json:"database"`
				Prefix   string `json:"prefix"`
			}{
				Address: *redisAddress,
			},
			Nats: struct {
				Address   string `json:"address"`
				Channel   string `json:"channel"`
				ClusterID string `json:"cluster"`
				ClientID  string `json:"client"`
			}{
				Address:   *natsAddress,
				Channel:   *prefix,
				ClusterID: "gatewaycore",
				ClientID:  *prefix,
			},
			Compression:   true,
			LargeThreshold: 250,
			Intents:       0,
		},
		gateway.Features{
			CacheMembers: true,
			RawEvents:    false,
		},
		registry,
		cache,
		cache,
		lifecycle,
		zlog,
	)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to build manager")
	}

	registrar := handlers.NewRegistrar(manager, cache, zlog)
	registrar.RegisterAll(registry)

	if err := manager.Open(); err != nil {
		zlog.Fatal().Err(err).Msg("failed to start manager")
	}

	zlog.Info().Msg("gatewaycore is running, ^C to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	manager.Close()
}
