package session

import (
	"go.uber.org/fx"

	"presencegate/pkg/config"
)

var Module = fx.Module("session.service",
	fx.Provide(
		NewService,
		func(cfg *config.Config) Config {
			return Config{
				MaxDistinctIPsDay: cfg.Session.MaxDistinctIPsDay,
				MaxLoginIPsHour:   cfg.Session.MaxLoginIPsHour,
				MaxAge:            cfg.Session.MaxAge,
				RevokeScore:       cfg.Session.RevokeScore,
			}
		},
	),
)
