package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/glb"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/types"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// LODService produces reduced-detail model variants at fixed simplification
// ratios. Level 0 is the untouched source; higher levels run through
// `gltfpack` mesh simplification.
type LODService interface {
	Generate(ctx context.Context, assetID uuid.UUID, modelURL string, opts LODOptions) (*LODResult, error)
	EstimateFileSize(originalSize int64, ratio float64) int64
	RecommendedMaxLevel(isMobile bool, gpuTier string) int
}

type LODOptions struct {
	LevelCount int
	Ratios     []float64
}

type LODResult struct {
	LODs               []types.LOD `json:"lods"`
	TotalSizeReduction int64       `json:"total_size_reduction"`
}

// Defaults: 3 levels, full / half / quarter detail, swapped in at 0, 10 and
// 50 world units.
var (
	defaultLODRatios    = []float64{1.0, 0.5, 0.25}
	defaultLODDistances = []float64{0, 10, 50}
)

// sizeEstimateBaseline is the fixed container overhead simplification never
// touches (headers, JSON chunk scaffolding).
const sizeEstimateBaseline = 1024

// bytesPerVertexEstimate approximates vertex counts from file size when the
// tool does not report them (position + normal + uv + index data).
const bytesPerVertexEstimate = 50

type lodService struct {
	log          *logger.Logger
	bucket       storage.BucketService
	gltfpackPath string
	workRoot     string
	timeout      time.Duration
	maxBytes     int64
}

func NewLODService(log *logger.Logger, bucket storage.BucketService) LODService {
	return &lodService{
		log:          log.With("service", "LODService"),
		bucket:       bucket,
		gltfpackPath: utils.GetEnv("GLTFPACK_PATH", "gltfpack", log),
		workRoot:     utils.GetEnv("PIPELINE_WORK_ROOT", "/tmp/polyforge-pipeline", log),
		timeout:      time.Duration(utils.GetEnvAsInt("LOD_GENERATE_TIMEOUT_SECONDS", 120, log)) * time.Second,
		maxBytes:     int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", 100*1024*1024, log)),
	}
}

func (l *lodService) Generate(ctx context.Context, assetID uuid.UUID, modelURL string, opts LODOptions) (*LODResult, error) {
	ratios := opts.Ratios
	if len(ratios) == 0 {
		ratios = defaultLODRatios
	}
	levelCount := opts.LevelCount
	if levelCount <= 0 || levelCount > len(ratios) {
		levelCount = len(ratios)
	}

	data, err := fetchModel(ctx, modelURL, l.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch model for lod generation: %w", err)
	}
	originalSize := int64(len(data))

	inPath, cleanup, err := writeTempModel(l.workRoot, assetID.String(), data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := &LODResult{}
	for level := 0; level < levelCount; level++ {
		ratio := ratios[level]
		lod, genErr := l.generateLevel(ctx, assetID, inPath, data, level, ratio)
		if genErr != nil {
			// A failed level is skipped; the remaining levels keep their
			// ascending order and monotonic distances.
			l.log.Warn("LOD level generation failed, skipping",
				"asset_id", assetID, "level", level, "error", genErr)
			continue
		}
		result.LODs = append(result.LODs, *lod)
		if level > 0 {
			result.TotalSizeReduction += originalSize - lod.FileSize
		}
	}

	if len(result.LODs) == 0 {
		return nil, fmt.Errorf("no lod levels could be generated")
	}
	return result, nil
}

func (l *lodService) generateLevel(ctx context.Context, assetID uuid.UUID, inPath string, original []byte, level int, ratio float64) (*types.LOD, error) {
	artifact := original

	if level > 0 {
		outPath := fmt.Sprintf("%s.lod%d.glb", inPath, level)
		defer os.Remove(outPath)

		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, l.gltfpackPath,
			"-i", inPath,
			"-o", outPath,
			"-si", strconv.FormatFloat(ratio, 'f', -1, 64),
			"-noq",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("gltfpack failed: %w; out=%s", err, string(out))
		}
		artifact, err = os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("gltfpack produced no output: %w", err)
		}
	}

	// Re-validate the container signature before accepting the artifact.
	if !glb.CheckMagic(artifact) {
		return nil, fmt.Errorf("lod artifact at level %d is not a GLB container", level)
	}

	key := fmt.Sprintf("%s/lod_%d.glb", assetID.String(), level)
	if err := l.bucket.Upload(ctx, storage.ArtifactLOD, key, bytes.NewReader(artifact)); err != nil {
		return nil, fmt.Errorf("upload lod artifact: %w", err)
	}

	return &types.LOD{
		Level:          level,
		URL:            l.bucket.PublicURL(storage.ArtifactLOD, key),
		VertexCount:    int(int64(float64(len(artifact)) / bytesPerVertexEstimate)),
		FileSize:       int64(len(artifact)),
		SwitchDistance: switchDistanceForLevel(level),
	}, nil
}

// switchDistanceForLevel extends the default table monotonically when more
// than three levels are configured.
func switchDistanceForLevel(level int) float64 {
	if level < len(defaultLODDistances) {
		return defaultLODDistances[level]
	}
	last := defaultLODDistances[len(defaultLODDistances)-1]
	return last * float64(level-len(defaultLODDistances)+2)
}

// EstimateFileSize applies the reduction ratio only to the portion of a file
// above the fixed container baseline, so the estimate never dips below the
// overhead a valid file always carries.
func (l *lodService) EstimateFileSize(originalSize int64, ratio float64) int64 {
	if originalSize <= sizeEstimateBaseline {
		return originalSize
	}
	return sizeEstimateBaseline + int64(float64(originalSize-sizeEstimateBaseline)*ratio)
}

// RecommendedMaxLevel caps the LOD ladder for a client. Mobile or anything
// below a high GPU tier stops at level 1; unknown inputs get the
// conservative cap.
func (l *lodService) RecommendedMaxLevel(isMobile bool, gpuTier string) int {
	if isMobile {
		return 1
	}
	switch gpuTier {
	case "high":
		return 2
	case "low", "medium":
		return 1
	default:
		return 1
	}
}
