package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/network-backup-manager/internal/api/handlers"
	"github.com/yourusername/network-backup-manager/internal/api/middleware"
	"github.com/yourusername/network-backup-manager/internal/config"
	"github.com/yourusername/network-backup-manager/internal/service"
	"github.com/yourusername/network-backup-manager/internal/websocket"
)

// SetupRouter configures and returns the HTTP router
func SetupRouter(cfg *config.Config, orch *service.Orchestrator, hub *websocket.Hub) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.ContentSecurityPolicy(cfg.Logging.Level == "debug"))
	router.Use(middleware.StrictTransport(cfg.Server.TLS.Enabled))

	equipmentHandler := handlers.NewEquipmentHandler(orch, cfg.Backup.RetentionCount)
	jobHandler := handlers.NewJobHandler(orch)
	backupHandler := handlers.NewBackupHandler(orch)
	providerHandler := handlers.NewProviderHandler(orch)
	eventsHandler := handlers.NewEventsHandler(hub, cfg.Security.CORS.AllowedOrigins)

	v1 := router.Group("/api/v1")
	{
		equipmentHandler.RegisterRoutes(v1)
		jobHandler.RegisterRoutes(v1)
		backupHandler.RegisterRoutes(v1)
		providerHandler.RegisterRoutes(v1)
		v1.GET("/events", eventsHandler.Stream)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
