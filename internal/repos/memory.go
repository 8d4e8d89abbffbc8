package repos

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/polyforge/polyforge-backend/internal/types"
)

// In-memory repo implementations. The pipeline and composer depend only on
// the repo interfaces, so tests (and the sqlite-less dev loop) run against
// these instead of Postgres. The tx parameter is ignored.

type MemoryAssetRepo struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]types.Asset
}

func NewMemoryAssetRepo() *MemoryAssetRepo {
	return &MemoryAssetRepo{assets: map[uuid.UUID]types.Asset{}}
}

func (r *MemoryAssetRepo) Create(ctx context.Context, tx *gorm.DB, assets []*types.Asset) ([]*types.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, a := range assets {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Status == "" {
			a.Status = types.AssetStatusDraft
		}
		a.CreatedAt = now
		a.UpdatedAt = now
		r.assets[a.ID] = *a
	}
	return assets, nil
}

func (r *MemoryAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, nil
	}
	copied := a
	return &copied, nil
}

func (r *MemoryAssetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil
	}
	for key, val := range updates {
		switch key {
		case "status":
			if s, ok := val.(string); ok {
				a.Status = s
			}
		case "processing_status":
			a.ProcessingStatus = toJSONColumn(val)
		case "texture_formats":
			a.TextureFormats = toJSONColumn(val)
		case "lods":
			a.LODs = toJSONColumn(val)
		case "usdz_url":
			if s, ok := val.(string); ok {
				a.USDZURL = s
			}
		case "thumbnail_url":
			if s, ok := val.(string); ok {
				a.ThumbnailURL = s
			}
		case "size_bytes":
			if n, ok := val.(int64); ok {
				a.SizeBytes = n
			}
		case "name":
			if s, ok := val.(string); ok {
				a.Name = s
			}
		}
	}
	a.UpdatedAt = time.Now()
	r.assets[id] = a
	return nil
}

func (r *MemoryAssetRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*types.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		copied := a
		out = append(out, &copied)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func toJSONColumn(val interface{}) datatypes.JSON {
	switch v := val.(type) {
	case datatypes.JSON:
		return v
	case []byte:
		return datatypes.JSON(v)
	case string:
		return datatypes.JSON(v)
	default:
		return types.MarshalJSONColumn(v)
	}
}

type MemoryLightingPresetRepo struct {
	mu      sync.RWMutex
	presets map[uuid.UUID]types.LightingPreset
}

func NewMemoryLightingPresetRepo() *MemoryLightingPresetRepo {
	return &MemoryLightingPresetRepo{presets: map[uuid.UUID]types.LightingPreset{}}
}

func (r *MemoryLightingPresetRepo) Create(ctx context.Context, tx *gorm.DB, presets []*types.LightingPreset) ([]*types.LightingPreset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range presets {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		r.presets[p.ID] = *p
	}
	return presets, nil
}

func (r *MemoryLightingPresetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LightingPreset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[id]
	if !ok {
		return nil, nil
	}
	copied := p
	return &copied, nil
}

type MemoryRenderPresetRepo struct {
	mu      sync.RWMutex
	presets map[uuid.UUID]types.RenderPreset
}

func NewMemoryRenderPresetRepo() *MemoryRenderPresetRepo {
	return &MemoryRenderPresetRepo{presets: map[uuid.UUID]types.RenderPreset{}}
}

func (r *MemoryRenderPresetRepo) Create(ctx context.Context, tx *gorm.DB, presets []*types.RenderPreset) ([]*types.RenderPreset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range presets {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		r.presets[p.ID] = *p
	}
	return presets, nil
}

func (r *MemoryRenderPresetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RenderPreset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[id]
	if !ok {
		return nil, nil
	}
	copied := p
	return &copied, nil
}

type MemoryMaterialVariantRepo struct {
	mu       sync.RWMutex
	variants map[uuid.UUID]types.MaterialVariant
}

func NewMemoryMaterialVariantRepo() *MemoryMaterialVariantRepo {
	return &MemoryMaterialVariantRepo{variants: map[uuid.UUID]types.MaterialVariant{}}
}

func (r *MemoryMaterialVariantRepo) Create(ctx context.Context, tx *gorm.DB, variants []*types.MaterialVariant) ([]*types.MaterialVariant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range variants {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		r.variants[v.ID] = *v
	}
	return variants, nil
}

func (r *MemoryMaterialVariantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MaterialVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[id]
	if !ok {
		return nil, nil
	}
	copied := v
	return &copied, nil
}
