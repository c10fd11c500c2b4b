package migrate

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/db"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// AutoMigrate applies the embedded migrations on boot. It only acts in the
// dev environment with ENROLLPAY_AUTO_MIGRATE on; elsewhere schema changes go
// through cmd/migrate. It reports whether migrations ran.
func AutoMigrate(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) (bool, error) {
	if client == nil || !cfg.FeatureFlags.AutoMigrate || !cfg.App.IsDev() {
		return false, nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return false, fmt.Errorf("sql handle: %w", err)
	}

	if err := Run(ctx, sqlDB, client.Dialect(), "", "up"); err != nil {
		return false, fmt.Errorf("auto-migrate: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return true, fmt.Errorf("read schema version: %w", err)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"dialect":        client.Dialect(),
		"schema_version": version,
	}), "schema migrated")
	return true, nil
}
