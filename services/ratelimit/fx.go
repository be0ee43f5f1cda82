package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"presencegate/pkg/config"
)

var Module = fx.Module("ratelimit.service",
	fx.Provide(
		NewService,
		func(rdb *redis.Client) Counter { return NewRedisCounter(rdb) },
		func(cfg *config.Config) Config {
			return Config{
				CooldownRich: cfg.RateLimit.CooldownRich,
				CooldownScan: cfg.RateLimit.CooldownScan,
				HourlyCap:    cfg.RateLimit.HourlyCap,
				BurstWindow:  cfg.RateLimit.BurstWindow,
			}
		},
	),
)
