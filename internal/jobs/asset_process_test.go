package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/services"
	"github.com/polyforge/polyforge-backend/internal/types"
)

type recordingJobRepo struct {
	updates    []map[string]interface{}
	heartbeats int
}

func (r *recordingJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	return jobs, nil
}

func (r *recordingJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	return nil, nil
}

func (r *recordingJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	return nil, nil
}

func (r *recordingJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.updates = append(r.updates, updates)
	return nil
}

func (r *recordingJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.heartbeats++
	return nil
}

type stubPipeline struct {
	gotAssetID uuid.UUID
	gotSource  string
	err        error
}

func (s *stubPipeline) RunProcessing(ctx context.Context, assetID uuid.UUID, sourceURL string) (*services.RunSummary, error) {
	s.gotAssetID = assetID
	s.gotSource = sourceURL
	if s.err != nil {
		return nil, s.err
	}
	return &services.RunSummary{AssetID: assetID, Status: types.AssetStatusReady}, nil
}

func runJob(t *testing.T, job *types.JobRun, pipeline *stubPipeline) *recordingJobRepo {
	t.Helper()
	repo := &recordingJobRepo{}
	jc := NewContext(context.Background(), nil, job, repo, logger.NewNop())
	NewAssetProcessHandler(pipeline).Run(jc)
	return repo
}

func TestAssetProcessHandler_RunsPipelineFromPayload(t *testing.T) {
	assetID := uuid.New()
	job := &types.JobRun{
		ID:      uuid.New(),
		JobType: types.JobTypeAssetProcess,
		Payload: types.MarshalJSONColumn(AssetProcessPayload{AssetID: assetID, SourceURL: "https://x/a.glb"}),
	}
	pipeline := &stubPipeline{}
	repo := runJob(t, job, pipeline)

	if pipeline.gotAssetID != assetID {
		t.Fatalf("asset id: want=%s got=%s", assetID, pipeline.gotAssetID)
	}
	if pipeline.gotSource != "https://x/a.glb" {
		t.Fatalf("source url: want=https://x/a.glb got=%s", pipeline.gotSource)
	}
	if repo.heartbeats != 1 {
		t.Fatalf("heartbeats: want=1 got=%d", repo.heartbeats)
	}
	if len(repo.updates) != 1 || repo.updates[0]["status"] != types.JobStatusSucceeded {
		t.Fatalf("job must be marked succeeded, got %+v", repo.updates)
	}
}

func TestAssetProcessHandler_FallsBackToEntityID(t *testing.T) {
	assetID := uuid.New()
	job := &types.JobRun{
		ID:       uuid.New(),
		JobType:  types.JobTypeAssetProcess,
		EntityID: &assetID,
	}
	pipeline := &stubPipeline{}
	runJob(t, job, pipeline)
	if pipeline.gotAssetID != assetID {
		t.Fatalf("handler must fall back to entity id: want=%s got=%s", assetID, pipeline.gotAssetID)
	}
}

func TestAssetProcessHandler_MissingAssetIDFails(t *testing.T) {
	job := &types.JobRun{ID: uuid.New(), JobType: types.JobTypeAssetProcess}
	repo := runJob(t, job, &stubPipeline{})
	if len(repo.updates) != 1 || repo.updates[0]["status"] != types.JobStatusFailed {
		t.Fatalf("job without an asset id must fail, got %+v", repo.updates)
	}
}

func TestAssetProcessHandler_PipelineErrorFailsJob(t *testing.T) {
	assetID := uuid.New()
	job := &types.JobRun{
		ID:       uuid.New(),
		JobType:  types.JobTypeAssetProcess,
		EntityID: &assetID,
	}
	repo := runJob(t, job, &stubPipeline{err: errors.New("boom")})
	if len(repo.updates) != 1 || repo.updates[0]["status"] != types.JobStatusFailed {
		t.Fatalf("pipeline error must fail the job, got %+v", repo.updates)
	}
	if repo.updates[0]["error"] != "boom" {
		t.Fatalf("error message lost: %+v", repo.updates[0])
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("empty registry must miss")
	}
	h := NewAssetProcessHandler(&stubPipeline{})
	reg.Register(types.JobTypeAssetProcess, h)
	got, ok := reg.Get(types.JobTypeAssetProcess)
	if !ok || got != h {
		t.Fatal("registered handler not returned")
	}
}
