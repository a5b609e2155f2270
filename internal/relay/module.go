package relay

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
)

// Module provides the local Hub and the configured Relay.
var Module = fx.Provide(ProvideHub, New)

// ProvideHub builds the local hub and closes it on shutdown so open
// subscription streams terminate.
func ProvideHub(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) *Hub {
	hub := NewHub(cfg.Relay.Buffer, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			hub.Close()
			return nil
		},
	})
	return hub
}

// New selects the relay driver.
func New(lc fx.Lifecycle, cfg config.Config, hub *Hub, logger *zap.Logger) (Relay, error) {
	switch cfg.Relay.Driver {
	case "memory":
		logger.Info("relay using in-process hub", zap.Int("buffer", cfg.Relay.Buffer))
		return hub, nil
	case "redis":
		return newRedis(lc, cfg, hub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported relay driver: %s", cfg.Relay.Driver)
	}
}

func newRedis(lc fx.Lifecycle, cfg config.Config, hub *Hub, logger *zap.Logger) Relay {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	r := NewRedisRelay(client, cfg.Relay.RedisChannel, hub, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			logger.Info("redis relay connected", zap.String("addr", cfg.Redis.Addr))
			return r.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing redis relay")
			if err := r.Stop(ctx); err != nil {
				logger.Warn("redis relay stop", zap.Error(err))
			}
			return client.Close()
		},
	})
	return r
}
