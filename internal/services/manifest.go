package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/apierr"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/types"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// Manifest versions existing viewers depend on. 1.0 is the legacy document:
// primary URL only, storage URLs untouched. 2.0 adds compressed textures,
// LODs and capability hints, with URLs rewritten through the CDN.
const (
	ManifestVersion1 = "1.0"
	ManifestVersion2 = "2.0"
)

type ManifestOptions struct {
	LightingPresetID  *uuid.UUID
	RenderPresetID    *uuid.UUID
	MaterialVariantID *uuid.UUID
	Device            string
	Format            string
	MaxLOD            *int
	PreferKTX2        bool
}

type RenderManifest struct {
	Version         string                   `json:"version"`
	Asset           ManifestAsset            `json:"asset"`
	Lighting        ManifestLighting         `json:"lighting"`
	Camera          types.Camera             `json:"camera"`
	Quality         ManifestQuality          `json:"quality"`
	MaterialVariant *ManifestMaterialVariant `json:"materialVariant,omitempty"`
}

type ManifestAsset struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name"`
	URL          string                `json:"url"`
	Format       string                `json:"format"`
	Formats      *ManifestFormats      `json:"formats,omitempty"`
	Capabilities *ManifestCapabilities `json:"capabilities,omitempty"`
}

type ManifestFormats struct {
	KTX2 string        `json:"ktx2,omitempty"`
	LODs []ManifestLOD `json:"lods,omitempty"`
}

type ManifestLOD struct {
	Level          int     `json:"level"`
	URL            string  `json:"url"`
	SwitchDistance float64 `json:"switchDistance"`
	FileSize       int64   `json:"fileSize,omitempty"`
}

type ManifestCapabilities struct {
	KTX2        bool `json:"ktx2"`
	LODs        bool `json:"lods"`
	MaxLODLevel int  `json:"maxLodLevel"`
}

type ManifestLighting struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	HDRI      string  `json:"hdri"`
	Exposure  float64 `json:"exposure"`
	Intensity float64 `json:"intensity"`
}

type ManifestQuality struct {
	Shadows      bool   `json:"shadows"`
	Antialiasing string `json:"antialiasing"`
	Tonemapping  string `json:"tonemapping"`
}

type ManifestMaterialVariant struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Overrides json.RawMessage `json:"overrides,omitempty"`
}

// ManifestService composes a device-tailored render manifest from the
// asset's pipeline outputs and the chosen presets. It reads current state on
// every call; nothing is cached across requests.
type ManifestService interface {
	Compose(ctx context.Context, assetID uuid.UUID, opts ManifestOptions) (*RenderManifest, error)
}

type manifestService struct {
	log          *logger.Logger
	assets       repos.AssetRepo
	lighting     repos.LightingPresetRepo
	renderPreset repos.RenderPresetRepo
	variants     repos.MaterialVariantRepo
	cdn          CDNRewriter
	defaultHDRI  string
}

func NewManifestService(
	log *logger.Logger,
	assets repos.AssetRepo,
	lighting repos.LightingPresetRepo,
	renderPreset repos.RenderPresetRepo,
	variants repos.MaterialVariantRepo,
	cdn CDNRewriter,
) ManifestService {
	return &manifestService{
		log:          log.With("service", "ManifestService"),
		assets:       assets,
		lighting:     lighting,
		renderPreset: renderPreset,
		variants:     variants,
		cdn:          cdn,
		defaultHDRI:  utils.GetEnv("DEFAULT_HDRI_URL", "https://assets.polyforge.dev/hdri/studio_neutral.hdr", log),
	}
}

func (m *manifestService) Compose(ctx context.Context, assetID uuid.UUID, opts ManifestOptions) (*RenderManifest, error) {
	asset, err := m.assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return nil, apierr.NotFound(apierr.CodeAssetNotFound, fmt.Errorf("asset %s not found", assetID))
	}

	lighting, camera, err := m.resolveLightingAndCamera(ctx, opts)
	if err != nil {
		return nil, err
	}

	manifest := &RenderManifest{
		Asset: ManifestAsset{
			ID:     asset.ID,
			Name:   asset.Name,
			URL:    asset.SourceURL,
			Format: asset.Format,
		},
		Lighting: lighting,
		Camera:   camera,
		Quality:  qualityForDevice(opts.Device),
	}

	if opts.MaterialVariantID != nil {
		variant, err := m.variants.GetByID(ctx, nil, *opts.MaterialVariantID)
		if err != nil {
			return nil, fmt.Errorf("load material variant: %w", err)
		}
		if variant == nil || variant.AssetID != asset.ID {
			return nil, apierr.NotFound(apierr.CodeMaterialVariantNotFound,
				fmt.Errorf("material variant %s not found for asset %s", *opts.MaterialVariantID, assetID))
		}
		manifest.MaterialVariant = &ManifestMaterialVariant{
			ID:        variant.ID,
			Name:      variant.Name,
			Overrides: json.RawMessage(variant.Overrides),
		}
	}

	ktx2, hasKTX2 := asset.TextureFormatByName("ktx2")
	lods := asset.LODList()

	// Backward compatibility: assets with no V3 outputs stay on the 1.0
	// document with the original storage URL untouched.
	if !hasKTX2 && len(lods) == 0 {
		manifest.Version = ManifestVersion1
		return manifest, nil
	}

	manifest.Version = ManifestVersion2
	manifest.Asset.URL = m.cdn.Rewrite(asset.SourceURL, storage.ArtifactModel)

	formats := &ManifestFormats{}
	maxLevel := 0
	if hasKTX2 {
		formats.KTX2 = m.cdn.Rewrite(ktx2.URL, storage.ArtifactTexture)
	}
	for _, lod := range lods {
		if opts.MaxLOD != nil && lod.Level > *opts.MaxLOD {
			continue
		}
		formats.LODs = append(formats.LODs, ManifestLOD{
			Level:          lod.Level,
			URL:            m.cdn.Rewrite(lod.URL, storage.ArtifactLOD),
			SwitchDistance: lod.SwitchDistance,
			FileSize:       lod.FileSize,
		})
		if lod.Level > maxLevel {
			maxLevel = lod.Level
		}
	}
	manifest.Asset.Formats = formats
	manifest.Asset.Capabilities = &ManifestCapabilities{
		KTX2:        hasKTX2,
		LODs:        len(formats.LODs) > 0,
		MaxLODLevel: maxLevel,
	}

	if (opts.PreferKTX2 || opts.Format == "ktx2") && hasKTX2 {
		manifest.Asset.URL = formats.KTX2
		manifest.Asset.Format = "ktx2"
	}

	return manifest, nil
}

// resolveLightingAndCamera applies the precedence order: a render preset
// fully determines lighting and camera, a lighting preset brings default
// camera, otherwise both fall back to defaults.
func (m *manifestService) resolveLightingAndCamera(ctx context.Context, opts ManifestOptions) (ManifestLighting, types.Camera, error) {
	if opts.RenderPresetID != nil {
		preset, err := m.renderPreset.GetByID(ctx, nil, *opts.RenderPresetID)
		if err != nil {
			return ManifestLighting{}, types.Camera{}, fmt.Errorf("load render preset: %w", err)
		}
		if preset == nil {
			return ManifestLighting{}, types.Camera{}, apierr.NotFound(apierr.CodeRenderPresetNotFound,
				fmt.Errorf("render preset %s not found", *opts.RenderPresetID))
		}
		lighting, err := m.lightingByID(ctx, preset.LightingPresetID)
		if err != nil {
			return ManifestLighting{}, types.Camera{}, err
		}
		return lighting, preset.CameraOrDefault(), nil
	}

	if opts.LightingPresetID != nil {
		lighting, err := m.lightingByID(ctx, *opts.LightingPresetID)
		if err != nil {
			return ManifestLighting{}, types.Camera{}, err
		}
		return lighting, types.DefaultCamera(), nil
	}

	return m.defaultLighting(), types.DefaultCamera(), nil
}

func (m *manifestService) lightingByID(ctx context.Context, id uuid.UUID) (ManifestLighting, error) {
	preset, err := m.lighting.GetByID(ctx, nil, id)
	if err != nil {
		return ManifestLighting{}, fmt.Errorf("load lighting preset: %w", err)
	}
	if preset == nil {
		return ManifestLighting{}, apierr.NotFound(apierr.CodeLightingPresetNotFound,
			fmt.Errorf("lighting preset %s not found", id))
	}
	return ManifestLighting{
		ID:        preset.ID.String(),
		Name:      preset.Name,
		HDRI:      preset.HDRIURL,
		Exposure:  preset.Exposure,
		Intensity: preset.Intensity,
	}, nil
}

func (m *manifestService) defaultLighting() ManifestLighting {
	return ManifestLighting{
		ID:        "default",
		Name:      "Studio Default",
		HDRI:      m.defaultHDRI,
		Exposure:  1.0,
		Intensity: 1.0,
	}
}

func qualityForDevice(device string) ManifestQuality {
	if device == "mobile" {
		return ManifestQuality{Shadows: false, Antialiasing: "none", Tonemapping: "linear"}
	}
	return ManifestQuality{Shadows: true, Antialiasing: "fxaa", Tonemapping: "aces"}
}
