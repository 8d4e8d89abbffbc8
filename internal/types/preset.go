package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LightingPreset is an immutable lighting environment referenced by manifests.
type LightingPreset struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	HDRIURL   string         `gorm:"column:hdri_url;not null" json:"hdri_url"`
	Exposure  float64        `gorm:"column:exposure;not null;default:1" json:"exposure"`
	Intensity float64        `gorm:"column:intensity;not null;default:1" json:"intensity"`
	Tags      datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (LightingPreset) TableName() string { return "lighting_preset" }

// Camera is the viewer camera placement stored on render presets.
type Camera struct {
	FOV      float64    `json:"fov"`
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
}

// DefaultCamera is used when no render preset supplies one.
func DefaultCamera() Camera {
	return Camera{FOV: 45, Position: [3]float64{3, 3, 3}, Target: [3]float64{0, 0, 0}}
}

// RenderPreset binds an asset to a lighting preset and a camera. When a
// manifest request names one, it overrides any separately supplied lighting.
type RenderPreset struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	AssetID          uuid.UUID      `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	LightingPresetID uuid.UUID      `gorm:"type:uuid;column:lighting_preset_id;not null;index" json:"lighting_preset_id"`
	Camera           datatypes.JSON `gorm:"column:camera;type:jsonb" json:"camera"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (RenderPreset) TableName() string { return "render_preset" }

func (p *RenderPreset) CameraOrDefault() Camera {
	if len(p.Camera) == 0 {
		return DefaultCamera()
	}
	var cam Camera
	if err := json.Unmarshal(p.Camera, &cam); err != nil || cam.FOV <= 0 {
		return DefaultCamera()
	}
	return cam
}

// MaterialVariant is an optional PBR override set scoped to one asset.
type MaterialVariant struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	AssetID   uuid.UUID      `gorm:"type:uuid;column:asset_id;not null;index" json:"asset_id"`
	Overrides datatypes.JSON `gorm:"column:overrides;type:jsonb" json:"overrides,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (MaterialVariant) TableName() string { return "material_variant" }
