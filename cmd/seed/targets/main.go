package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presencegate/pkg/config"
	"presencegate/pkg/db"
	"presencegate/pkg/logger"
	"presencegate/services/catalog"
)

// Seeds the target catalog from a JSON file of catalog.Target rows.
func main() {
	path := flag.String("file", "targets.json", "path to the targets JSON file")
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		catalog.Module,
		fx.Invoke(func(gdb *gorm.DB) error {
			return gdb.AutoMigrate(&catalog.Target{})
		}),
		fx.Invoke(func(svc *catalog.Service, shutdowner fx.Shutdowner) error {
			defer shutdowner.Shutdown()
			return seed(svc, *path)
		}),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

func seed(svc *catalog.Service, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var targets []catalog.Target
	if err := json.Unmarshal(raw, &targets); err != nil {
		return err
	}

	ctx := context.Background()
	for i := range targets {
		if err := svc.Upsert(ctx, &targets[i]); err != nil {
			return err
		}
		zap.L().Info("seeded target", zap.String("tag_id", targets[i].TagID))
	}

	zap.L().Info("seed complete", zap.Int("targets", len(targets)))
	return nil
}
