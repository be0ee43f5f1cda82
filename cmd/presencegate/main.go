package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presencegate/internal/httpapi"
	"presencegate/internal/server"
	"presencegate/pkg/config"
	"presencegate/pkg/db"
	"presencegate/pkg/gen"
	"presencegate/pkg/health"
	"presencegate/pkg/logger"
	"presencegate/pkg/otelcol"
	"presencegate/pkg/redis"
	"presencegate/services/audit"
	"presencegate/services/behavior"
	"presencegate/services/catalog"
	"presencegate/services/challenge"
	"presencegate/services/claim"
	"presencegate/services/presence"
	"presencegate/services/ratelimit"
	"presencegate/services/session"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		health.Module,
		gen.Module,
		otelcol.Module,
		presence.Module,
		challenge.Module,
		catalog.Module,
		ratelimit.Module,
		behavior.Module,
		session.Module,
		audit.Module,
		claim.Module,
		httpapi.Module,
		server.Module,
		fx.Invoke(
			db.RegisterLifecycle,
			migrate,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&challenge.Challenge{},
		&catalog.Target{},
		&audit.Record{},
		&session.ActivityLog{},
		&session.RevokedSession{},
		&claim.VisitRecord{},
		&claim.Balance{},
		&claim.KnownDevice{},
	)
}
