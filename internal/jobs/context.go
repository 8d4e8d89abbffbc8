package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/types"
)

// Context is the handle a job handler uses to report its outcome.
type Context struct {
	Ctx context.Context
	Job *types.JobRun
	Log *logger.Logger

	db   *gorm.DB
	repo repos.JobRunRepo
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, log *logger.Logger) *Context {
	return &Context{
		Ctx:  ctx,
		Job:  job,
		Log:  log.With("job_id", job.ID, "job_type", job.JobType),
		db:   db,
		repo: repo,
	}
}

func (jc *Context) Heartbeat() {
	if err := jc.repo.Heartbeat(jc.Ctx, jc.db, jc.Job.ID); err != nil {
		jc.Log.Warn("Heartbeat failed", "error", err)
	}
}

func (jc *Context) Complete(result interface{}) {
	updates := map[string]interface{}{
		"status": types.JobStatusSucceeded,
		"error":  "",
	}
	if result != nil {
		updates["result"] = types.MarshalJSONColumn(result)
	}
	if err := jc.repo.UpdateFields(jc.Ctx, jc.db, jc.Job.ID, updates); err != nil {
		jc.Log.Error("Could not mark job succeeded", "error", err)
	}
}

func (jc *Context) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error":         msg,
		"last_error_at": now,
	}
	if uErr := jc.repo.UpdateFields(jc.Ctx, jc.db, jc.Job.ID, updates); uErr != nil {
		jc.Log.Error("Could not mark job failed", "error", uErr)
	}
}
