package services

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/apierr"
	"github.com/polyforge/polyforge-backend/internal/glb"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/notify"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/types"
)

// minimalGLB builds the smallest container the inspector accepts.
func minimalGLB() []byte {
	jsonChunk := []byte(`{"scene":0,"scenes":[{}],"meshes":[{}]}`)
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, 0x20)
	}
	out := make([]byte, 12+8)
	binary.LittleEndian.PutUint32(out[0:4], glb.MagicGLB)
	binary.LittleEndian.PutUint32(out[4:8], 2)
	binary.LittleEndian.PutUint32(out[8:12], uint32(12+8+len(jsonChunk)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(jsonChunk)))
	binary.LittleEndian.PutUint32(out[16:20], 0x4E4F534A)
	return append(out, jsonChunk...)
}

type fakeTextureService struct {
	err   error
	panic bool
}

func (f *fakeTextureService) Compress(ctx context.Context, assetID uuid.UUID, modelURL string, opts TextureCompressOptions) (*TextureCompressResult, error) {
	if f.panic {
		panic("texture tool crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &TextureCompressResult{
		Format:         "ktx2",
		CompressedURL:  "https://storage.googleapis.com/test-bucket/texture/" + assetID.String() + "/1.ktx2",
		OriginalSize:   1000,
		CompressedSize: 300,
	}, nil
}

func (f *fakeTextureService) DetectCapabilities(platform string) DeviceCapabilities {
	return DeviceCapabilities{}
}

type fakeLODService struct {
	err error
}

func (f *fakeLODService) Generate(ctx context.Context, assetID uuid.UUID, modelURL string, opts LODOptions) (*LODResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &LODResult{LODs: []types.LOD{
		{Level: 0, URL: "https://x/lod_0.glb", SwitchDistance: 0, FileSize: 1000},
		{Level: 1, URL: "https://x/lod_1.glb", SwitchDistance: 10, FileSize: 500},
	}}, nil
}

func (f *fakeLODService) EstimateFileSize(originalSize int64, ratio float64) int64 { return 0 }
func (f *fakeLODService) RecommendedMaxLevel(isMobile bool, gpuTier string) int    { return 1 }

type fakeUSDZService struct {
	err  error
	stub bool
}

func (f *fakeUSDZService) Convert(ctx context.Context, assetID uuid.UUID, modelURL string, opts USDZOptions) (*USDZResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	converter := "usdzconvert"
	message := "converted"
	if f.stub {
		converter = "stub"
		message = "all converters unavailable, placeholder generated"
	}
	return &USDZResult{
		Success:   true,
		OutputURL: "https://x/" + assetID.String() + ".usdz",
		Converter: converter,
		Message:   message,
	}, nil
}

type fakeThumbnailService struct {
	fail bool
}

func (f *fakeThumbnailService) Render(ctx context.Context, assetID uuid.UUID, modelURL string, angle string, opts ThumbnailOptions) *ThumbnailResult {
	if f.fail {
		return &ThumbnailResult{Angle: angle, Message: "render failed"}
	}
	return &ThumbnailResult{Success: true, Angle: angle, URL: "https://x/" + angle + ".png"}
}

func (f *fakeThumbnailService) RenderAll(ctx context.Context, assetID uuid.UUID, modelURL string, angles []string, opts ThumbnailOptions) *ThumbnailBatchResult {
	batch := &ThumbnailBatchResult{}
	for _, angle := range angles {
		res := f.Render(ctx, assetID, modelURL, angle, opts)
		batch.Results = append(batch.Results, res)
		if res.Success {
			batch.SuccessCount++
		}
	}
	return batch
}

func (f *fakeThumbnailService) RenderTurntable(ctx context.Context, assetID uuid.UUID, modelURL string) *ThumbnailResult {
	return &ThumbnailResult{Angle: "turntable", Message: "360 turntable rendering is not implemented"}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.ProcessedEvent
}

func (r *recordingNotifier) AssetProcessed(ctx context.Context, event notify.ProcessedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type pipelineFixture struct {
	svc      *pipelineService
	assets   *repos.MemoryAssetRepo
	bucket   *fakeBucket
	texture  *fakeTextureService
	lod      *fakeLODService
	usdz     *fakeUSDZService
	thumbs   *fakeThumbnailService
	notifier *recordingNotifier
}

func newPipelineFixture(t *testing.T, v3 bool) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		assets:   repos.NewMemoryAssetRepo(),
		bucket:   newFakeBucket(),
		texture:  &fakeTextureService{},
		lod:      &fakeLODService{},
		usdz:     &fakeUSDZService{},
		thumbs:   &fakeThumbnailService{},
		notifier: &recordingNotifier{},
	}
	f.svc = &pipelineService{
		log:       logger.NewNop(),
		assets:    f.assets,
		bucket:    f.bucket,
		inspector: glb.NewInspector(0),
		texture:   f.texture,
		lod:       f.lod,
		usdz:      f.usdz,
		thumbs:    f.thumbs,
		notifier:  f.notifier,
		workRoot:  t.TempDir(),
		v3Enabled: v3,
		maxBytes:  100 * 1024 * 1024,
	}
	return f
}

func (f *pipelineFixture) seedAsset(t *testing.T, sourceURL string) uuid.UUID {
	t.Helper()
	asset := &types.Asset{Name: "Crate", SourceURL: sourceURL, Format: "glb"}
	if _, err := f.assets.Create(context.Background(), nil, []*types.Asset{asset}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return asset.ID
}

func serveGLB(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "model/gltf-binary")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunProcessing_HappyPath(t *testing.T) {
	f := newPipelineFixture(t, true)
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/crate.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	if summary.Status != types.AssetStatusReady {
		t.Fatalf("status: want=%s got=%s", types.AssetStatusReady, summary.Status)
	}
	for _, stage := range []string{
		types.StageValidation, types.StageOptimization,
		types.StageKTX2, types.StageLODs, types.StageUSDZ, types.StageThumbnails,
	} {
		if summary.Stages[stage] != types.StageReady {
			t.Fatalf("stage %s: want=ready got=%s", stage, summary.Stages[stage])
		}
	}

	asset, _ := f.assets.GetByID(context.Background(), nil, assetID)
	if asset.Status != types.AssetStatusReady {
		t.Fatalf("persisted status: want=ready got=%s", asset.Status)
	}
	if asset.SizeBytes != int64(len(minimalGLB())) {
		t.Fatalf("size_bytes: want=%d got=%d", len(minimalGLB()), asset.SizeBytes)
	}
	if _, ok := asset.TextureFormatByName("ktx2"); !ok {
		t.Fatal("ktx2 texture entry not persisted")
	}
	if len(asset.LODList()) != 2 {
		t.Fatalf("lods persisted: want=2 got=%d", len(asset.LODList()))
	}
	if asset.USDZURL == "" || asset.ThumbnailURL == "" {
		t.Fatalf("usdz/thumbnail urls not persisted: %q %q", asset.USDZURL, asset.ThumbnailURL)
	}

	// The optimized working copy lands in object storage.
	if _, ok := f.bucket.object("model", assetID.String()+"/optimized.glb"); !ok {
		t.Fatal("optimized model not uploaded")
	}

	if len(f.notifier.events) != 1 || f.notifier.events[0].Status != types.AssetStatusReady {
		t.Fatalf("processed event wrong: %+v", f.notifier.events)
	}
}

func TestRunProcessing_UnknownAsset(t *testing.T) {
	f := newPipelineFixture(t, true)
	_, err := f.svc.RunProcessing(context.Background(), uuid.New(), "")
	var typed *apierr.Error
	if !errors.As(err, &typed) || typed.Code != apierr.CodeAssetNotFound {
		t.Fatalf("expected %s, got %v", apierr.CodeAssetNotFound, err)
	}
}

func TestRunProcessing_ValidationFailureFailsRun(t *testing.T) {
	f := newPipelineFixture(t, true)
	srv := serveGLB(t, []byte("definitely not a model"))
	assetID := f.seedAsset(t, srv.URL+"/bad.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	if summary.Status != types.AssetStatusFailed {
		t.Fatalf("status: want=failed got=%s", summary.Status)
	}
	if summary.Stages[types.StageValidation] != types.StageFailed {
		t.Fatalf("validation stage: want=failed got=%s", summary.Stages[types.StageValidation])
	}
	// Nothing may be left mid-flight: every stage is terminal.
	for stage, st := range summary.Stages {
		if st != types.StageReady && st != types.StageFailed {
			t.Fatalf("stage %s left non-terminal: %s", stage, st)
		}
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Status != types.AssetStatusFailed {
		t.Fatalf("processed event wrong: %+v", f.notifier.events)
	}
}

func TestRunProcessing_AllArtifactStagesFailed(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.texture.err = errors.New("toktx missing")
	f.lod.err = errors.New("gltfpack missing")
	f.usdz.err = errors.New("no converter")
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/crate.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	// Thumbnails alone cannot carry the run.
	if summary.Status != types.AssetStatusFailed {
		t.Fatalf("status: want=failed got=%s", summary.Status)
	}
	if summary.Stages[types.StageThumbnails] != types.StageReady {
		t.Fatalf("thumbnails should still have run: got %s", summary.Stages[types.StageThumbnails])
	}
}

func TestRunProcessing_StubUSDZCountsAsSuccess(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.texture.err = errors.New("toktx missing")
	f.lod.err = errors.New("gltfpack missing")
	f.usdz.stub = true
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/crate.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	if summary.Status != types.AssetStatusReady {
		t.Fatalf("stub usdz is a degraded success, run must be ready, got %s", summary.Status)
	}
	if summary.Stages[types.StageUSDZ] != types.StageReady {
		t.Fatalf("usdz stage: want=ready got=%s", summary.Stages[types.StageUSDZ])
	}
	if summary.Stages[types.StageKTX2] != types.StageFailed {
		t.Fatalf("ktx2 stage: want=failed got=%s", summary.Stages[types.StageKTX2])
	}
}

func TestRunProcessing_PanicIsContained(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.texture.panic = true
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/crate.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("panic escaped the stage boundary: %v", err)
	}
	if summary.Stages[types.StageKTX2] != types.StageFailed {
		t.Fatalf("panicking stage: want=failed got=%s", summary.Stages[types.StageKTX2])
	}
	// The remaining stages keep running.
	if summary.Stages[types.StageLODs] != types.StageReady {
		t.Fatalf("lods stage after panic: want=ready got=%s", summary.Stages[types.StageLODs])
	}
	if summary.Status != types.AssetStatusReady {
		t.Fatalf("status: want=ready got=%s", summary.Status)
	}
}

func TestRunProcessing_V3Disabled(t *testing.T) {
	f := newPipelineFixture(t, false)
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/crate.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	if summary.Status != types.AssetStatusReady {
		t.Fatalf("status: want=ready got=%s", summary.Status)
	}
	if len(summary.Stages) != 2 {
		t.Fatalf("v3 disabled should run 2 stages, got %d: %v", len(summary.Stages), summary.Stages)
	}
	for _, stage := range []string{types.StageKTX2, types.StageLODs, types.StageUSDZ, types.StageThumbnails} {
		if _, ok := summary.Stages[stage]; ok {
			t.Fatalf("stage %s must not run with v3 disabled", stage)
		}
	}
}

func TestRunProcessing_OversizeModelRejected(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.svc.maxBytes = 16
	f.svc.inspector = glb.NewInspector(16)
	srv := serveGLB(t, minimalGLB())
	assetID := f.seedAsset(t, srv.URL+"/huge.glb")

	summary, err := f.svc.RunProcessing(context.Background(), assetID, "")
	if err != nil {
		t.Fatalf("RunProcessing: %v", err)
	}
	if summary.Status != types.AssetStatusFailed {
		t.Fatalf("oversize model must fail the run, got %s", summary.Status)
	}
	if summary.Stages[types.StageValidation] != types.StageFailed {
		t.Fatalf("validation stage: want=failed got=%s", summary.Stages[types.StageValidation])
	}
}
