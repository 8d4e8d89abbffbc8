package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/polyforge/polyforge-backend/internal/handlers"
)

type RouterConfig struct {
	HealthcheckHandler *handlers.HealthcheckHandler
	AssetHandler       *handlers.AssetHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", cfg.HealthcheckHandler.Healthcheck)

	api := router.Group("/api")
	{
		api.GET("/capabilities", cfg.AssetHandler.Capabilities)

		api.POST("/assets", cfg.AssetHandler.CreateAsset)
		api.GET("/assets", cfg.AssetHandler.ListAssets)
		api.GET("/assets/:id", cfg.AssetHandler.GetAsset)
		api.POST("/assets/:id/process", cfg.AssetHandler.ProcessAsset)
		api.GET("/assets/:id/processing-status", cfg.AssetHandler.ProcessingStatus)
		api.GET("/assets/:id/manifest", cfg.AssetHandler.GetManifest)
	}

	return router
}
