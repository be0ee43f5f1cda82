package behavior

import (
	"go.uber.org/fx"

	"presencegate/pkg/config"
)

var Module = fx.Module("behavior",
	fx.Provide(func(cfg *config.Config) Config {
		return Config{
			HistorySize:      cfg.Behavior.HistorySize,
			MinIntervals:     cfg.Behavior.MinIntervals,
			RegularityCV:     cfg.Behavior.RegularityCV,
			BurstMax:         cfg.Behavior.BurstMax,
			MaxTravelKmh:     cfg.Behavior.MaxTravelKmh,
			JumpDistance:     cfg.Behavior.JumpDistance,
			JumpWindow:       cfg.Behavior.JumpWindow,
			MaxJumpsPerDay:   cfg.Behavior.MaxJumpsPerDay,
			SameCoordSamples: cfg.Behavior.SameCoordSamples,
		}
	}),
)
