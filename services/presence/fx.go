package presence

import (
	"go.uber.org/fx"

	"presencegate/pkg/config"
)

var Module = fx.Module("presence",
	fx.Provide(func(cfg *config.Config) Policy {
		return Policy{
			MaxAccuracyMeters:    cfg.Presence.MaxAccuracyMeters,
			MaxSampleAge:         cfg.Presence.MaxSampleAge,
			MaxFootSpeedMps:      cfg.Presence.MaxFootSpeedMps,
			MaxImpliedSpeedMps:   cfg.Presence.MaxImpliedSpeedMps,
			MinAltitudeMeters:    cfg.Presence.MinAltitudeMeters,
			MaxAltitudeMeters:    cfg.Presence.MaxAltitudeMeters,
			MinSamples:           cfg.Presence.MinSamples,
			MinSampleInterval:    cfg.Presence.MinSampleInterval,
			MaxSampleInterval:    cfg.Presence.MaxSampleInterval,
			MaxCentroidDeviation: cfg.Presence.MaxCentroidDeviation,
			DefaultRadiusMeters:  cfg.Presence.DefaultRadiusMeters,
			ScanRadiusMeters:     cfg.Presence.ScanRadiusMeters,
			SimilarityThreshold:  cfg.Presence.SimilarityThreshold,
		}
	}),
)
