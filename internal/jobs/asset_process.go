package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/services"
)

// AssetProcessPayload is the payload stored on asset_process job rows.
type AssetProcessPayload struct {
	AssetID   uuid.UUID `json:"asset_id"`
	SourceURL string    `json:"source_url,omitempty"`
}

// AssetProcessHandler runs the processing pipeline for one asset.
type AssetProcessHandler struct {
	pipeline services.PipelineService
}

func NewAssetProcessHandler(pipeline services.PipelineService) *AssetProcessHandler {
	return &AssetProcessHandler{pipeline: pipeline}
}

func (h *AssetProcessHandler) Run(jc *Context) {
	var payload AssetProcessPayload
	if len(jc.Job.Payload) > 0 {
		if err := json.Unmarshal(jc.Job.Payload, &payload); err != nil {
			jc.Fail(fmt.Errorf("decode payload: %w", err))
			return
		}
	}
	if payload.AssetID == uuid.Nil && jc.Job.EntityID != nil {
		payload.AssetID = *jc.Job.EntityID
	}
	if payload.AssetID == uuid.Nil {
		jc.Fail(fmt.Errorf("asset_process job has no asset id"))
		return
	}

	jc.Heartbeat()
	summary, err := h.pipeline.RunProcessing(jc.Ctx, payload.AssetID, payload.SourceURL)
	if err != nil {
		jc.Fail(err)
		return
	}
	jc.Complete(summary)
}
