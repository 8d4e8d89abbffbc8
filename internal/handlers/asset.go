package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/polyforge/polyforge-backend/internal/jobs"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/services"
	"github.com/polyforge/polyforge-backend/internal/types"
)

type AssetHandler struct {
	log      *logger.Logger
	assets   repos.AssetRepo
	jobRuns  repos.JobRunRepo
	pipeline services.PipelineService
	manifest services.ManifestService
	textures services.TextureService
}

func NewAssetHandler(
	log *logger.Logger,
	assets repos.AssetRepo,
	jobRuns repos.JobRunRepo,
	pipeline services.PipelineService,
	manifest services.ManifestService,
	textures services.TextureService,
) *AssetHandler {
	return &AssetHandler{
		log:      log.With("handler", "AssetHandler"),
		assets:   assets,
		jobRuns:  jobRuns,
		pipeline: pipeline,
		manifest: manifest,
		textures: textures,
	}
}

type createAssetRequest struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url" binding:"required"`
	Format    string `json:"format"`
}

func (h *AssetHandler) CreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	format := req.Format
	if format == "" {
		format = "glb"
	}
	asset := &types.Asset{
		Name:      req.Name,
		SourceURL: req.SourceURL,
		Format:    format,
		Status:    types.AssetStatusDraft,
	}
	created, err := h.assets.Create(c.Request.Context(), nil, []*types.Asset{asset})
	if err != nil {
		h.log.Error("failed to create asset", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	RespondOK(c, created[0])
}

func (h *AssetHandler) GetAsset(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	asset, err := h.assets.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if asset == nil {
		RespondError(c, http.StatusNotFound, "asset_not_found", errAssetNotFound)
		return
	}
	RespondOK(c, asset)
}

func (h *AssetHandler) ListAssets(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	assets, err := h.assets.List(c.Request.Context(), nil, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	RespondOK(c, gin.H{"assets": assets})
}

// ProcessAsset enqueues a processing job for the asset. With ?sync=1 the
// pipeline runs inline and the response carries the run summary.
func (h *AssetHandler) ProcessAsset(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	asset, err := h.assets.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if asset == nil {
		RespondError(c, http.StatusNotFound, "asset_not_found", errAssetNotFound)
		return
	}

	if c.Query("sync") == "1" {
		summary, err := h.pipeline.RunProcessing(c.Request.Context(), id, asset.SourceURL)
		if err != nil {
			RespondFromError(c, err)
			return
		}
		RespondOK(c, summary)
		return
	}

	entityID := id
	job := &types.JobRun{
		JobType:    types.JobTypeAssetProcess,
		EntityType: "asset",
		EntityID:   &entityID,
		Status:     types.JobStatusQueued,
		Payload: types.MarshalJSONColumn(jobs.AssetProcessPayload{
			AssetID:   id,
			SourceURL: asset.SourceURL,
		}),
	}
	created, err := h.jobRuns.Create(c.Request.Context(), nil, []*types.JobRun{job})
	if err != nil {
		h.log.Error("failed to enqueue processing job", "asset_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   created[0].ID,
		"asset_id": id,
		"status":   created[0].Status,
	})
}

func (h *AssetHandler) ProcessingStatus(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	asset, err := h.assets.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if asset == nil {
		RespondError(c, http.StatusNotFound, "asset_not_found", errAssetNotFound)
		return
	}
	RespondOK(c, gin.H{
		"asset_id": asset.ID,
		"status":   asset.Status,
		"stages":   asset.StageStatuses(),
	})
}

func (h *AssetHandler) GetManifest(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	opts := services.ManifestOptions{
		Device:     strings.ToLower(c.Query("device")),
		Format:     strings.ToLower(c.Query("format")),
		PreferKTX2: c.Query("preferKtx2") == "true" || c.Query("preferKtx2") == "1",
	}
	var err error
	if opts.LightingPresetID, err = optionalUUID(c, "lightingPresetId"); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if opts.RenderPresetID, err = optionalUUID(c, "renderPresetId"); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if opts.MaterialVariantID, err = optionalUUID(c, "materialVariantId"); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if raw := c.Query("maxLod"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_request", errInvalidMaxLOD)
			return
		}
		opts.MaxLOD = &parsed
	}

	manifest, err := h.manifest.Compose(c.Request.Context(), id, opts)
	if err != nil {
		RespondFromError(c, err)
		return
	}
	RespondOK(c, manifest)
}

func (h *AssetHandler) Capabilities(c *gin.Context) {
	caps := h.textures.DetectCapabilities(c.Query("platform"))
	RespondOK(c, caps)
}

func (h *AssetHandler) assetID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", errInvalidAssetID)
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(c *gin.Context, key string) (*uuid.UUID, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
