package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/types"
)

// Preset repos are read-only from the core's perspective; Create exists for
// the CRUD layer and for seeding tests.

type LightingPresetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, presets []*types.LightingPreset) ([]*types.LightingPreset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LightingPreset, error)
}

type RenderPresetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, presets []*types.RenderPreset) ([]*types.RenderPreset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RenderPreset, error)
}

type MaterialVariantRepo interface {
	Create(ctx context.Context, tx *gorm.DB, variants []*types.MaterialVariant) ([]*types.MaterialVariant, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MaterialVariant, error)
}

type lightingPresetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLightingPresetRepo(db *gorm.DB, baseLog *logger.Logger) LightingPresetRepo {
	return &lightingPresetRepo{db: db, log: baseLog.With("repo", "LightingPresetRepo")}
}

func (r *lightingPresetRepo) Create(ctx context.Context, tx *gorm.DB, presets []*types.LightingPreset) ([]*types.LightingPreset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(presets) == 0 {
		return []*types.LightingPreset{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&presets).Error; err != nil {
		return nil, err
	}
	return presets, nil
}

func (r *lightingPresetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LightingPreset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var preset types.LightingPreset
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&preset).Error
	if err != nil {
		return nil, err
	}
	if preset.ID == uuid.Nil {
		return nil, nil
	}
	return &preset, nil
}

type renderPresetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRenderPresetRepo(db *gorm.DB, baseLog *logger.Logger) RenderPresetRepo {
	return &renderPresetRepo{db: db, log: baseLog.With("repo", "RenderPresetRepo")}
}

func (r *renderPresetRepo) Create(ctx context.Context, tx *gorm.DB, presets []*types.RenderPreset) ([]*types.RenderPreset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(presets) == 0 {
		return []*types.RenderPreset{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&presets).Error; err != nil {
		return nil, err
	}
	return presets, nil
}

func (r *renderPresetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RenderPreset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var preset types.RenderPreset
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&preset).Error
	if err != nil {
		return nil, err
	}
	if preset.ID == uuid.Nil {
		return nil, nil
	}
	return &preset, nil
}

type materialVariantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialVariantRepo(db *gorm.DB, baseLog *logger.Logger) MaterialVariantRepo {
	return &materialVariantRepo{db: db, log: baseLog.With("repo", "MaterialVariantRepo")}
}

func (r *materialVariantRepo) Create(ctx context.Context, tx *gorm.DB, variants []*types.MaterialVariant) ([]*types.MaterialVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(variants) == 0 {
		return []*types.MaterialVariant{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&variants).Error; err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *materialVariantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MaterialVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var variant types.MaterialVariant
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&variant).Error
	if err != nil {
		return nil, err
	}
	if variant.ID == uuid.Nil {
		return nil, nil
	}
	return &variant, nil
}
