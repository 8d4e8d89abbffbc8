package types

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Asset lifecycle status. Transitions: draft -> processing -> ready|failed.
const (
	AssetStatusDraft      = "draft"
	AssetStatusProcessing = "processing"
	AssetStatusReady      = "ready"
	AssetStatusFailed     = "failed"
)

// Pipeline stage keys, in run order.
const (
	StageValidation   = "validation"
	StageOptimization = "optimization"
	StageKTX2         = "ktx2"
	StageLODs         = "lods"
	StageUSDZ         = "usdz"
	StageThumbnails   = "thumbnails"
)

// Per-stage status. Forward-only: pending -> processing -> ready|failed.
const (
	StagePending    = "pending"
	StageProcessing = "processing"
	StageReady      = "ready"
	StageFailed     = "failed"
)

type Asset struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	SourceURL string    `gorm:"column:source_url;not null" json:"source_url"`
	Format    string    `gorm:"column:format;not null;default:'glb'" json:"format"`
	SizeBytes int64     `gorm:"column:size_bytes" json:"size_bytes"`

	Status           string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	ProcessingStatus datatypes.JSON `gorm:"column:processing_status;type:jsonb" json:"processing_status,omitempty"`

	// Outputs of the processing pipeline. The pipeline is the only writer.
	TextureFormats datatypes.JSON `gorm:"column:texture_formats;type:jsonb" json:"texture_formats,omitempty"`
	LODs           datatypes.JSON `gorm:"column:lods;type:jsonb" json:"lods,omitempty"`
	USDZURL        string         `gorm:"column:usdz_url" json:"usdz_url,omitempty"`
	ThumbnailURL   string         `gorm:"column:thumbnail_url" json:"thumbnail_url,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Asset) TableName() string { return "asset" }

// TextureFormat is one compressed-texture output, keyed by Format.
type TextureFormat struct {
	Format         string `json:"format"`
	URL            string `json:"url"`
	OriginalSize   int64  `json:"original_size"`
	CompressedSize int64  `json:"compressed_size"`
}

// LOD is one generated level-of-detail variant. Level 0 is full detail.
type LOD struct {
	Level          int     `json:"level"`
	URL            string  `json:"url"`
	VertexCount    int     `json:"vertex_count"`
	FileSize       int64   `json:"file_size"`
	SwitchDistance float64 `json:"switch_distance"`
}

func (a *Asset) StageStatuses() map[string]string {
	out := map[string]string{}
	if len(a.ProcessingStatus) > 0 {
		_ = json.Unmarshal(a.ProcessingStatus, &out)
	}
	return out
}

func (a *Asset) TextureFormatList() []TextureFormat {
	var out []TextureFormat
	if len(a.TextureFormats) > 0 {
		_ = json.Unmarshal(a.TextureFormats, &out)
	}
	return out
}

// TextureFormatByName returns the entry for a format name, if present.
func (a *Asset) TextureFormatByName(format string) (TextureFormat, bool) {
	for _, tf := range a.TextureFormatList() {
		if tf.Format == format {
			return tf, true
		}
	}
	return TextureFormat{}, false
}

// LODList returns the asset's LODs sorted ascending by level.
func (a *Asset) LODList() []LOD {
	var out []LOD
	if len(a.LODs) > 0 {
		_ = json.Unmarshal(a.LODs, &out)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func MarshalJSONColumn(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
