package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"presencegate/pkg/config"
)

var Module = fx.Module("zap",
	fx.Provide(New),
)

type Params struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger and installs it as the zap global. Outside
// production the human-readable development encoder is kept.
func New(p Params) *zap.Logger {
	var log *zap.Logger

	if p.Cfg.AppEnv == "production" {
		c := zap.NewProductionConfig()
		c.EncoderConfig.TimeKey = "timestamp"
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		c.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		log = zap.Must(c.Build())
	} else {
		log = zap.Must(zap.NewDevelopment())
	}

	log = log.With(
		zap.String("env", p.Cfg.AppEnv),
		zap.String("service", p.Cfg.AppName),
	)

	zap.ReplaceGlobals(log)
	return log
}
