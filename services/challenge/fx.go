package challenge

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"presencegate/pkg/config"
)

var Module = fx.Module("challenge.service",
	fx.Provide(
		NewService,
		func(cfg *config.Config) Config {
			return Config{
				TTL:           cfg.Presence.ChallengeTTL,
				PruneInterval: time.Minute,
			}
		},
	),
	fx.Invoke(RunPruner),
)

// RunPruner sweeps expired unused challenges in the background for the
// lifetime of the app.
func RunPruner(lc fx.Lifecycle, svc *Service) {
	interval := svc.cfg.PruneInterval
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ticker := time.NewTicker(interval)
			go func() {
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						n, err := svc.PruneExpired(ctx, time.Now())
						cancel()
						if err != nil {
							zap.L().Warn("failed to prune expired challenges", zap.Error(err))
						} else if n > 0 {
							zap.L().Info("pruned expired challenges", zap.Int64("count", n))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(done)
			return nil
		},
	})
}
