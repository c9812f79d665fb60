package main

import (
	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/middleware"
)

// RouterOptions configures the middleware chain
type RouterOptions struct {
	Logger      *logging.Logger
	RateLimiter *middleware.RateLimiter
	JWTSecret   string
}

func setupRouter(api *API, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if opts.Logger != nil {
		router.Use(middleware.Logger(opts.Logger))
	}
	router.Use(middleware.Metrics())

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	if opts.RateLimiter != nil {
		v1.Use(middleware.RateLimit(opts.RateLimiter))
	}
	if opts.JWTSecret != "" {
		v1.Use(middleware.JWTAuth(opts.JWTSecret))
	}
	{
		v1.GET("/presets", api.getPresets)
		v1.GET("/stats", api.getStats)
		v1.POST("/geometry", api.resolveGeometry)

		v1.POST("/uploads", api.uploadSource)

		v1.POST("/exports", api.createExport)
		v1.GET("/exports", api.listExports)
		v1.GET("/exports/:id", api.getExport)
		v1.GET("/exports/:id/download", api.downloadExport)

		v1.POST("/preview-frame", api.previewFrame)
	}

	return router
}
