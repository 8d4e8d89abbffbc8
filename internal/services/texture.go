package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// TextureService converts embedded model textures into GPU-ready KTX2.
// Requires the `toktx` binary (KTX-Software) in the worker runtime.
type TextureService interface {
	Compress(ctx context.Context, assetID uuid.UUID, modelURL string, opts TextureCompressOptions) (*TextureCompressResult, error)
	DetectCapabilities(platform string) DeviceCapabilities
}

type TextureCompressOptions struct {
	Quality int // 1..10, clamped
	// Formats restricts the produced output formats; empty means whatever
	// the service supports. Only "ktx2" is produced today, so a list that
	// excludes it is rejected rather than silently ignored.
	Formats         []string
	GenerateMipmaps bool
}

type TextureCompressResult struct {
	Format           string  `json:"format"`
	CompressedURL    string  `json:"compressed_url"`
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// DeviceCapabilities is what a client's declared platform supports.
type DeviceCapabilities struct {
	SupportsKTX2 bool   `json:"supports_ktx2"`
	SupportsASTC bool   `json:"supports_astc"`
	GPUClass     string `json:"gpu_class"` // low | medium | high
}

type textureService struct {
	log       *logger.Logger
	bucket    storage.BucketService
	toktxPath string
	workRoot  string
	timeout   time.Duration
	maxBytes  int64
}

func NewTextureService(log *logger.Logger, bucket storage.BucketService) TextureService {
	serviceLog := log.With("service", "TextureService")
	return &textureService{
		log:       serviceLog,
		bucket:    bucket,
		toktxPath: utils.GetEnv("TOKTX_PATH", "toktx", log),
		workRoot:  utils.GetEnv("PIPELINE_WORK_ROOT", "/tmp/polyforge-pipeline", log),
		timeout:   time.Duration(utils.GetEnvAsInt("TEXTURE_COMPRESS_TIMEOUT_SECONDS", 120, log)) * time.Second,
		maxBytes:  int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", 100*1024*1024, log)),
	}
}

func (t *textureService) Compress(ctx context.Context, assetID uuid.UUID, modelURL string, opts TextureCompressOptions) (*TextureCompressResult, error) {
	if !formatRequested(opts.Formats, "ktx2") {
		return nil, fmt.Errorf("unsupported texture formats %v: only ktx2 is available", opts.Formats)
	}
	quality := clampQuality(opts.Quality)

	data, err := fetchModel(ctx, modelURL, t.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch model for texture compression: %w", err)
	}

	inPath, cleanup, err := writeTempModel(t.workRoot, assetID.String(), data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := strings.TrimSuffix(inPath, ".glb") + ".ktx2"
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// toktx quality is 0..255; scale our 1..10 knob onto it.
	args := []string{
		"--t2",
		"--encode", "basis-lz",
		"--clevel", strconv.Itoa(quality/2 + 1),
		"--qlevel", strconv.Itoa(quality * 25),
	}
	if opts.GenerateMipmaps {
		args = append(args, "--genmipmap")
	}
	args = append(args, outPath, inPath)

	cmd := exec.CommandContext(ctx, t.toktxPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("toktx failed: %w; out=%s", err, string(out))
	}

	compressed, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("toktx produced no output: %w", err)
	}

	key := fmt.Sprintf("%s/%d.ktx2", assetID.String(), time.Now().UnixNano())
	if err := t.bucket.Upload(ctx, storage.ArtifactTexture, key, bytes.NewReader(compressed)); err != nil {
		return nil, fmt.Errorf("upload ktx2 artifact: %w", err)
	}

	ratio := 0.0
	if len(data) > 0 {
		ratio = float64(len(compressed)) / float64(len(data))
	}
	t.log.Info("Texture compression complete",
		"asset_id", assetID,
		"original_size", len(data),
		"compressed_size", len(compressed),
		"ratio", ratio,
	)

	return &TextureCompressResult{
		Format:           "ktx2",
		CompressedURL:    t.bucket.PublicURL(storage.ArtifactTexture, key),
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: ratio,
	}, nil
}

// formatRequested reports whether want is in the requested format list; an
// empty list requests everything.
func formatRequested(formats []string, want string) bool {
	if len(formats) == 0 {
		return true
	}
	for _, f := range formats {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 10 {
		return 10
	}
	return q
}

// DetectCapabilities maps a declared platform string to texture support.
// Unknown platforms get the conservative profile: no compressed textures,
// so they still receive a working manifest with the original format.
func (t *textureService) DetectCapabilities(platform string) DeviceCapabilities {
	p := strings.ToLower(strings.TrimSpace(platform))
	switch {
	case p == "":
		return DeviceCapabilities{SupportsKTX2: false, SupportsASTC: false, GPUClass: "low"}
	case strings.Contains(p, "ios"), strings.Contains(p, "iphone"), strings.Contains(p, "ipad"):
		return DeviceCapabilities{SupportsKTX2: true, SupportsASTC: true, GPUClass: "medium"}
	case strings.Contains(p, "android"):
		return DeviceCapabilities{SupportsKTX2: true, SupportsASTC: true, GPUClass: "medium"}
	case strings.Contains(p, "desktop"), strings.Contains(p, "windows"), strings.Contains(p, "macos"), strings.Contains(p, "linux"):
		return DeviceCapabilities{SupportsKTX2: true, SupportsASTC: false, GPUClass: "high"}
	default:
		return DeviceCapabilities{SupportsKTX2: false, SupportsASTC: false, GPUClass: "low"}
	}
}
