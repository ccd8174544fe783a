package scheduler

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLocker),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// ProvideLocker connects to Redis when REDIS_ADDR is set. Without it the
// scheduler runs unlocked.
func ProvideLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Locker {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, scheduler runs without a distributed lock")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewLocker(client)
}

func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
