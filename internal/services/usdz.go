package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// USDZService converts a GLB into the USDZ distribution format through an
// ordered chain of converter backends. When every real backend fails it
// synthesizes a placeholder so the pipeline can proceed — a degraded
// success, not a stage failure.
type USDZService interface {
	Convert(ctx context.Context, assetID uuid.UUID, modelURL string, opts USDZOptions) (*USDZResult, error)
}

type USDZOptions struct {
	// PrimaryBackend selects which backend is tried first; empty keeps the
	// configured chain order. Fallback order is unaffected.
	PrimaryBackend string
}

type USDZResult struct {
	Success          bool    `json:"success"`
	OutputURL        string  `json:"output_url,omitempty"`
	OriginalSize     int64   `json:"original_size"`
	OutputSize       int64   `json:"output_size,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
	Message          string  `json:"message"`
	Converter        string  `json:"converter"`
}

// converterBackend is one attempt strategy in the chain. Convert must leave
// the expected output file at outPath on success.
type converterBackend interface {
	Name() string
	Convert(ctx context.Context, inPath, outPath string) error
}

type usdzService struct {
	log      *logger.Logger
	bucket   storage.BucketService
	backends []converterBackend
	workRoot string
	timeout  time.Duration
	maxBytes int64
}

func NewUSDZService(log *logger.Logger, bucket storage.BucketService) USDZService {
	serviceLog := log.With("service", "USDZService")
	timeout := time.Duration(utils.GetEnvAsInt("USDZ_CONVERT_TIMEOUT_SECONDS", 120, log)) * time.Second
	backends := []converterBackend{
		&cliBackend{
			name:    "usdzconvert",
			path:    utils.GetEnv("USDZCONVERT_PATH", "usdzconvert", log),
			argsFor: func(in, out string) []string { return []string{in, out} },
			timeout: timeout,
		},
		&cliBackend{
			name: "usd_from_gltf",
			path: utils.GetEnv("USD_FROM_GLTF_PATH", "usd_from_gltf", log),
			argsFor: func(in, out string) []string {
				return []string{in, out}
			},
			timeout: timeout,
		},
		&blenderBackend{
			path:    utils.GetEnv("BLENDER_PATH", "blender", log),
			timeout: timeout,
		},
	}
	return &usdzService{
		log:      serviceLog,
		bucket:   bucket,
		backends: backends,
		workRoot: utils.GetEnv("PIPELINE_WORK_ROOT", "/tmp/polyforge-pipeline", log),
		timeout:  timeout,
		maxBytes: int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", 100*1024*1024, log)),
	}
}

// NewUSDZServiceWithBackends wires an explicit chain. Used by tests.
func NewUSDZServiceWithBackends(log *logger.Logger, bucket storage.BucketService, workRoot string, backends []converterBackend) USDZService {
	return &usdzService{
		log:      log.With("service", "USDZService"),
		bucket:   bucket,
		backends: backends,
		workRoot: workRoot,
		timeout:  2 * time.Minute,
		maxBytes: 100 * 1024 * 1024,
	}
}

func (u *usdzService) Convert(ctx context.Context, assetID uuid.UUID, modelURL string, opts USDZOptions) (*USDZResult, error) {
	data, err := fetchModel(ctx, modelURL, u.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch model for usdz conversion: %w", err)
	}

	inPath, cleanup, err := writeTempModel(u.workRoot, assetID.String(), data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := strings.TrimSuffix(inPath, ".glb") + ".usdz"
	defer os.Remove(outPath)

	var output []byte
	converter := ""
	var lastErr error
	for _, backend := range orderBackends(u.backends, opts.PrimaryBackend) {
		attemptErr := backend.Convert(ctx, inPath, outPath)
		if attemptErr == nil {
			produced, readErr := os.ReadFile(outPath)
			if readErr == nil && len(produced) > 0 {
				output = produced
				converter = backend.Name()
				break
			}
			// Clean exit without the expected file counts as a failure.
			attemptErr = fmt.Errorf("backend %s exited cleanly but produced no output", backend.Name())
		}
		lastErr = attemptErr
		u.log.Warn("USDZ backend failed, trying next",
			"asset_id", assetID, "backend", backend.Name(), "error", attemptErr)
		_ = os.Remove(outPath)
	}

	message := "converted"
	if output == nil {
		// Degraded success: placeholder USDZ so delivery still has an iOS
		// artifact. Visible via processing status, never a hard error.
		output = stubUSDZ(assetID.String())
		converter = "stub"
		message = "all converters unavailable, placeholder generated"
		u.log.Warn("All USDZ backends failed, writing stub",
			"asset_id", assetID, "last_error", lastErr)
	}

	key := fmt.Sprintf("%s/%d.usdz", assetID.String(), time.Now().UnixNano())
	if err := u.bucket.Upload(ctx, storage.ArtifactUSDZ, key, bytes.NewReader(output)); err != nil {
		return nil, fmt.Errorf("upload usdz artifact: %w", err)
	}

	ratio := 0.0
	if len(data) > 0 {
		ratio = float64(len(output)) / float64(len(data))
	}
	return &USDZResult{
		Success:          true,
		OutputURL:        u.bucket.PublicURL(storage.ArtifactUSDZ, key),
		OriginalSize:     int64(len(data)),
		OutputSize:       int64(len(output)),
		CompressionRatio: ratio,
		Message:          message,
		Converter:        converter,
	}, nil
}

// orderBackends moves the named primary to the front without disturbing the
// relative fallback order of the rest.
func orderBackends(backends []converterBackend, primary string) []converterBackend {
	if primary == "" {
		return backends
	}
	ordered := make([]converterBackend, 0, len(backends))
	for _, b := range backends {
		if b.Name() == primary {
			ordered = append(ordered, b)
		}
	}
	for _, b := range backends {
		if b.Name() != primary {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// stubUSDZ builds a minimal valid USDZ: an uncompressed zip holding a tiny
// USDA layer.
func stubUSDZ(name string) []byte {
	usda := fmt.Sprintf(`#usda 1.0
(
    defaultPrim = "Placeholder"
)

def Xform "Placeholder" (
    kind = "component"
)
{
    def Cube "Geom"
    {
        double size = 1
        custom string polyforge:source = %q
    }
}
`, name)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{Name: "placeholder.usda", Method: zip.Store}
	w, err := zw.CreateHeader(hdr)
	if err == nil {
		_, _ = w.Write([]byte(usda))
	}
	_ = zw.Close()
	return buf.Bytes()
}

// cliBackend shells out to a converter binary, time-boxed per attempt.
type cliBackend struct {
	name    string
	path    string
	argsFor func(in, out string) []string
	timeout time.Duration
}

func (b *cliBackend) Name() string { return b.name }

func (b *cliBackend) Convert(ctx context.Context, inPath, outPath string) error {
	if _, err := exec.LookPath(b.path); err != nil {
		return fmt.Errorf("binary %q not in PATH: %w", b.path, err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, b.path, b.argsFor(inPath, outPath)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w; out=%s", b.name, err, string(out))
	}
	return nil
}

// blenderBackend drives Blender headless with a generated export script.
type blenderBackend struct {
	path    string
	timeout time.Duration
}

func (b *blenderBackend) Name() string { return "blender" }

func (b *blenderBackend) Convert(ctx context.Context, inPath, outPath string) error {
	if _, err := exec.LookPath(b.path); err != nil {
		return fmt.Errorf("binary %q not in PATH: %w", b.path, err)
	}
	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%q)
bpy.ops.wm.usd_export(filepath=%q)
`, inPath, outPath)
	scriptPath := filepath.Join(filepath.Dir(inPath), "export_usdz.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return fmt.Errorf("write blender script: %w", err)
	}
	defer os.Remove(scriptPath)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, b.path, "--background", "--python", scriptPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("blender failed: %w; out=%s", err, string(out))
	}
	return nil
}
