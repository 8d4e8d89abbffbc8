package main

import (
	"context"
	"fmt"
	"os"

	"github.com/polyforge/polyforge-backend/internal/db"
	"github.com/polyforge/polyforge-backend/internal/glb"
	"github.com/polyforge/polyforge-backend/internal/handlers"
	"github.com/polyforge/polyforge-backend/internal/jobs"
	"github.com/polyforge/polyforge-backend/internal/logger"
	"github.com/polyforge/polyforge-backend/internal/notify"
	"github.com/polyforge/polyforge-backend/internal/repos"
	"github.com/polyforge/polyforge-backend/internal/server"
	"github.com/polyforge/polyforge-backend/internal/services"
	"github.com/polyforge/polyforge-backend/internal/storage"
	"github.com/polyforge/polyforge-backend/internal/types"
	"github.com/polyforge/polyforge-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	assetRepo := repos.NewAssetRepo(thePG, log)
	lightingPresetRepo := repos.NewLightingPresetRepo(thePG, log)
	renderPresetRepo := repos.NewRenderPresetRepo(thePG, log)
	materialVariantRepo := repos.NewMaterialVariantRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)

	// Object storage
	bucketService, err := storage.NewBucketService(log)
	if err != nil {
		log.Fatal("Bucket init failed", "error", err)
	}

	// Notifications
	redisClient := notify.NewRedisClient(log)
	notifier := notify.New(log, redisClient)

	// Services
	log.Info("Setting up Services from main...")
	maxGLBBytes := int64(utils.GetEnvAsInt("GLB_MAX_SIZE_BYTES", glb.DefaultMaxSize, log))
	inspector := glb.NewInspector(maxGLBBytes)
	cdnRewriter := services.NewCDNRewriter(log)
	textureService := services.NewTextureService(log, bucketService)
	lodService := services.NewLODService(log, bucketService)
	usdzService := services.NewUSDZService(log, bucketService)
	thumbnailService := services.NewThumbnailService(log, bucketService)
	pipelineService := services.NewPipelineService(
		log,
		assetRepo,
		bucketService,
		inspector,
		textureService,
		lodService,
		usdzService,
		thumbnailService,
		notifier,
	)
	manifestService := services.NewManifestService(
		log,
		assetRepo,
		lightingPresetRepo,
		renderPresetRepo,
		materialVariantRepo,
		cdnRewriter,
	)

	// Jobs
	log.Info("Setting up job worker from main...")
	registry := jobs.NewRegistry()
	registry.Register(types.JobTypeAssetProcess, jobs.NewAssetProcessHandler(pipelineService))
	worker := jobs.NewWorker(thePG, log, jobRunRepo, registry)
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	worker.Start(workerCtx)

	// Handlers
	log.Info("Setting up Handlers from main...")
	healthcheckHandler := handlers.NewHealthcheckHandler(log)
	assetHandler := handlers.NewAssetHandler(
		log,
		assetRepo,
		jobRunRepo,
		pipelineService,
		manifestService,
		textureService,
	)

	// Router
	router := server.NewRouter(server.RouterConfig{
		HealthcheckHandler: healthcheckHandler,
		AssetHandler:       assetHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
