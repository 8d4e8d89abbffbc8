package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/types"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	port := utils.GetEnv("POSTGRES_PORT", "5432", log)
	user := utils.GetEnv("POSTGRES_USER", "postgres", log)
	password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	name := utils.GetEnv("POSTGRES_NAME", "polyforge", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("Connecting to Postgres...")
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gormDB.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gormDB, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Asset{},
		&types.LightingPreset{},
		&types.RenderPreset{},
		&types.MaterialVariant{},
		&types.JobRun{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := s.db.Exec(`
		ALTER TABLE "render_preset"
		DROP CONSTRAINT IF EXISTS "fk_render_preset_asset_id";
	`).Error; err != nil {
		return err
	}
	if err := s.db.Exec(`
		ALTER TABLE "render_preset"
		ADD CONSTRAINT "fk_render_preset_asset_id"
		FOREIGN KEY ("asset_id")
		REFERENCES "asset"("id")
		ON DELETE CASCADE
	`).Error; err != nil {
		return err
	}
	if err := s.db.Exec(`
		ALTER TABLE "material_variant"
		DROP CONSTRAINT IF EXISTS "fk_material_variant_asset_id";
	`).Error; err != nil {
		return err
	}
	if err := s.db.Exec(`
		ALTER TABLE "material_variant"
		ADD CONSTRAINT "fk_material_variant_asset_id"
		FOREIGN KEY ("asset_id")
		REFERENCES "asset"("id")
		ON DELETE CASCADE
	`).Error; err != nil {
		return err
	}
	return nil
}
