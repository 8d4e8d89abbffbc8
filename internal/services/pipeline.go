package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/apierr"
	"github.com/polyforge/polyforge-backend/internal/glb"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/notify"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/types"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

// PipelineService drives one asset through validation, optimization and the
// V3 enrichment stages (texture compression, LODs, USDZ, thumbnails). One
// run is scoped to one asset; the pipeline is the sole writer of the
// asset's stage statuses while it runs.
type PipelineService interface {
	RunProcessing(ctx context.Context, assetID uuid.UUID, sourceURL string) (*RunSummary, error)
}

type RunSummary struct {
	AssetID uuid.UUID         `json:"asset_id"`
	Status  string            `json:"status"`
	Stages  map[string]string `json:"stages"`
}

var defaultThumbnailAngles = []string{"front", "isometric"}

type pipelineService struct {
	log       *logger.Logger
	assets    repos.AssetRepo
	bucket    storage.BucketService
	inspector *glb.Inspector
	texture   TextureService
	lod       LODService
	usdz      USDZService
	thumbs    ThumbnailService
	notifier  notify.Notifier
	workRoot  string
	v3Enabled bool
	maxBytes  int64
}

func NewPipelineService(
	log *logger.Logger,
	assets repos.AssetRepo,
	bucket storage.BucketService,
	inspector *glb.Inspector,
	texture TextureService,
	lod LODService,
	usdz USDZService,
	thumbs ThumbnailService,
	notifier notify.Notifier,
) PipelineService {
	return &pipelineService{
		log:       log.With("service", "PipelineService"),
		assets:    assets,
		bucket:    bucket,
		inspector: inspector,
		texture:   texture,
		lod:       lod,
		usdz:      usdz,
		thumbs:    thumbs,
		notifier:  notifier,
		workRoot:  utils.GetEnv("PIPELINE_WORK_ROOT", "/tmp/polyforge-pipeline", log),
		v3Enabled: utils.GetEnvAsBool("PIPELINE_V3_ENABLED", true, log),
		maxBytes:  int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", 100*1024*1024, log)),
	}
}

func (p *pipelineService) RunProcessing(ctx context.Context, assetID uuid.UUID, sourceURL string) (*RunSummary, error) {
	asset, err := p.assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return nil, apierr.NotFound(apierr.CodeAssetNotFound, fmt.Errorf("asset %s not found", assetID))
	}
	if sourceURL == "" {
		sourceURL = asset.SourceURL
	}

	runLog := p.log.With("asset_id", assetID)
	runLog.Info("Processing run started", "source_url", sourceURL, "v3", p.v3Enabled)

	// A new run rebuilds the stage map; within the run every stage moves
	// pending -> processing -> ready|failed and never regresses.
	run := &pipelineRun{p: p, assetID: assetID, stages: map[string]string{
		types.StageValidation:   types.StagePending,
		types.StageOptimization: types.StagePending,
	}}
	if p.v3Enabled {
		run.stages[types.StageKTX2] = types.StagePending
		run.stages[types.StageLODs] = types.StagePending
		run.stages[types.StageUSDZ] = types.StagePending
		run.stages[types.StageThumbnails] = types.StagePending
	}
	run.persist(ctx, map[string]interface{}{"status": types.AssetStatusProcessing})

	// Validation: fetch once, inspect, fail the run on structural errors.
	var modelData []byte
	run.stage(ctx, types.StageValidation, func() error {
		data, fetchErr := fetchModel(ctx, sourceURL, p.maxBytes)
		if fetchErr != nil {
			return fetchErr
		}
		report := p.inspector.Validate(data)
		if !report.Valid {
			return fmt.Errorf("model validation failed: %v", report.Errors)
		}
		for _, w := range report.Warnings {
			runLog.Debug("Validation warning", "warning", w)
		}
		modelData = data
		return nil
	})
	if run.stages[types.StageValidation] != types.StageReady {
		return run.finish(ctx, runLog, types.AssetStatusFailed)
	}

	// Optimization: persist the normalized working copy; later stages read
	// this same output.
	var localPath string
	var cleanup func()
	run.stage(ctx, types.StageOptimization, func() error {
		path, cleanupFn, writeErr := writeTempModel(p.workRoot, assetID.String(), modelData)
		if writeErr != nil {
			return writeErr
		}
		localPath = path
		cleanup = cleanupFn
		key := fmt.Sprintf("%s/optimized.glb", assetID.String())
		if upErr := p.bucket.Upload(ctx, storage.ArtifactModel, key, bytes.NewReader(modelData)); upErr != nil {
			return upErr
		}
		return p.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
			"size_bytes": int64(len(modelData)),
		})
	})
	if cleanup != nil {
		defer cleanup()
	}
	if run.stages[types.StageOptimization] != types.StageReady {
		return run.finish(ctx, runLog, types.AssetStatusFailed)
	}

	if !p.v3Enabled {
		return run.finish(ctx, runLog, types.AssetStatusReady)
	}

	// V3 stages run sequentially off the same optimized copy. Each failure
	// is contained: it marks its own stage and leaves the rest untouched.
	run.stage(ctx, types.StageKTX2, func() error {
		res, stageErr := p.texture.Compress(ctx, assetID, localPath, TextureCompressOptions{Quality: 8, GenerateMipmaps: true})
		if stageErr != nil {
			return stageErr
		}
		return p.mergeTextureFormat(ctx, assetID, types.TextureFormat{
			Format:         res.Format,
			URL:            res.CompressedURL,
			OriginalSize:   res.OriginalSize,
			CompressedSize: res.CompressedSize,
		})
	})

	run.stage(ctx, types.StageLODs, func() error {
		res, stageErr := p.lod.Generate(ctx, assetID, localPath, LODOptions{})
		if stageErr != nil {
			return stageErr
		}
		return p.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
			"lods": types.MarshalJSONColumn(res.LODs),
		})
	})

	run.stage(ctx, types.StageUSDZ, func() error {
		res, stageErr := p.usdz.Convert(ctx, assetID, localPath, USDZOptions{})
		if stageErr != nil {
			return stageErr
		}
		if res.Converter == "stub" {
			runLog.Warn("USDZ conversion degraded to stub", "message", res.Message)
		}
		return p.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
			"usdz_url": res.OutputURL,
		})
	})

	run.stage(ctx, types.StageThumbnails, func() error {
		asset, loadErr := p.assets.GetByID(ctx, nil, assetID)
		label := ""
		if loadErr == nil && asset != nil {
			label = asset.Name
		}
		batch := p.thumbs.RenderAll(ctx, assetID, localPath, defaultThumbnailAngles, ThumbnailOptions{Label: label})
		if batch.SuccessCount == 0 {
			return fmt.Errorf("no thumbnail angle rendered")
		}
		for _, r := range batch.Results {
			if r != nil && r.Success {
				return p.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
					"thumbnail_url": r.URL,
				})
			}
		}
		return nil
	})

	// V3 enrichment succeeded if any artifact-producing stage did. A stub
	// USDZ counts: it is a degraded success by contract.
	v3Succeeded := run.stages[types.StageKTX2] == types.StageReady ||
		run.stages[types.StageLODs] == types.StageReady ||
		run.stages[types.StageUSDZ] == types.StageReady
	if !v3Succeeded {
		return run.finish(ctx, runLog, types.AssetStatusFailed)
	}
	return run.finish(ctx, runLog, types.AssetStatusReady)
}

func (p *pipelineService) mergeTextureFormat(ctx context.Context, assetID uuid.UUID, tf types.TextureFormat) error {
	asset, err := p.assets.GetByID(ctx, nil, assetID)
	if err != nil || asset == nil {
		return fmt.Errorf("reload asset for texture merge: %w", err)
	}
	formats := asset.TextureFormatList()
	replaced := false
	for i := range formats {
		if formats[i].Format == tf.Format {
			formats[i] = tf
			replaced = true
			break
		}
	}
	if !replaced {
		formats = append(formats, tf)
	}
	return p.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
		"texture_formats": types.MarshalJSONColumn(formats),
	})
}

// pipelineRun tracks and persists per-stage status for one run.
type pipelineRun struct {
	p       *pipelineService
	assetID uuid.UUID
	stages  map[string]string
}

// stage executes fn with the orchestrator's containment guarantees: status
// is persisted around the call and a panic inside a stage becomes a failed
// status plus a logged diagnostic, never a crashed run.
func (r *pipelineRun) stage(ctx context.Context, name string, fn func() error) {
	r.set(ctx, name, types.StageProcessing)
	defer func() {
		if rec := recover(); rec != nil {
			r.p.log.Error("Stage panicked", "asset_id", r.assetID, "stage", name, "panic", rec)
			r.set(ctx, name, types.StageFailed)
		}
	}()
	if err := fn(); err != nil {
		r.p.log.Warn("Stage failed", "asset_id", r.assetID, "stage", name, "error", err)
		r.set(ctx, name, types.StageFailed)
		return
	}
	r.set(ctx, name, types.StageReady)
}

// set advances a stage status, refusing to regress out of a terminal state.
func (r *pipelineRun) set(ctx context.Context, name, status string) {
	current := r.stages[name]
	if current == types.StageReady || current == types.StageFailed {
		return
	}
	r.stages[name] = status
	r.persist(ctx, nil)
}

func (r *pipelineRun) persist(ctx context.Context, extra map[string]interface{}) {
	updates := map[string]interface{}{
		"processing_status": types.MarshalJSONColumn(r.stages),
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := r.p.assets.UpdateFields(ctx, nil, r.assetID, updates); err != nil {
		r.p.log.Error("Could not persist stage status", "asset_id", r.assetID, "error", err)
	}
}

// finish marks any stage still pending as failed (nothing may be left
// mid-flight after a run), persists the aggregate status and emits the
// processed event.
func (r *pipelineRun) finish(ctx context.Context, runLog *logger.Logger, status string) (*RunSummary, error) {
	for name, st := range r.stages {
		if st == types.StagePending || st == types.StageProcessing {
			r.stages[name] = types.StageFailed
		}
	}
	r.persist(ctx, map[string]interface{}{"status": status})
	runLog.Info("Processing run finished", "status", status, "stages", r.stages)

	if r.p.notifier != nil {
		r.p.notifier.AssetProcessed(ctx, notify.ProcessedEvent{
			AssetID:     r.assetID,
			Status:      status,
			StageStatus: r.stages,
		})
	}
	return &RunSummary{AssetID: r.assetID, Status: status, Stages: r.stages}, nil
}
