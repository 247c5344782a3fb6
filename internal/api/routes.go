package api

import (
	"github.com/TheGojiOG/CfxSM/internal/api/handlers"
	"github.com/TheGojiOG/CfxSM/internal/api/middleware"
	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/console"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/metrics"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/TheGojiOG/CfxSM/internal/websocket"
	"github.com/gin-gonic/gin"
)

// Services is everything the router serves. Scheduler, Feed and Metrics
// may be nil.
type Services struct {
	Store     *config.Store
	Catalog   *builds.Catalog
	Folders   *datafolder.Manager
	Runtime   *server.RuntimeManager
	Scheduler *server.RestartScheduler
	Hub       *websocket.Hub
	Feed      *console.Feed
	Metrics   *metrics.Collector
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(svc Services) *gin.Engine {
	cfg := svc.Store.Get()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.HTTP.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.HTTP.RateLimit))
	router.Use(middleware.SecurityHeaders())

	settingsHandler := handlers.NewSettingsHandler(svc.Store, func(updated *config.Config) {
		if svc.Scheduler != nil {
			// the schedule was validated before the update was saved
			_ = svc.Scheduler.Apply(updated)
		}
	})
	folderHandler := handlers.NewFolderHandler(svc.Folders)
	buildHandler := handlers.NewBuildHandler(svc.Catalog)
	runtimeHandler := handlers.NewRuntimeHandler(svc.Runtime, svc.Catalog, svc.Folders, svc.Scheduler, svc.Feed)
	wsHandler := handlers.NewWebSocketHandler(svc.Hub, cfg.HTTP.AllowedOrigins)

	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(cfg.HTTP.APIToken))
	{
		protected.GET("/settings", settingsHandler.GetSettings)
		protected.PUT("/settings", settingsHandler.UpdateSettings)

		protected.GET("/folders", folderHandler.ListFolders)
		protected.GET("/folders/:name", folderHandler.GetFolder)

		protected.GET("/builds", buildHandler.ListBuilds)
		protected.GET("/builds/installs", buildHandler.ListInstalls)
		protected.POST("/builds/:version/install", buildHandler.InstallBuild)

		runtime := protected.Group("/runtime")
		{
			runtime.GET("", runtimeHandler.GetStatus)
			runtime.POST("/start", runtimeHandler.Start)
			runtime.POST("/stop", runtimeHandler.Stop)
			runtime.POST("/restart", runtimeHandler.Restart)
			runtime.GET("/sessions", runtimeHandler.ListSessions)
			runtime.GET("/console", runtimeHandler.GetConsole)
		}

		protected.GET("/ws/runtime", wsHandler.Serve(websocket.RoomRuntime, func() (string, interface{}) {
			return "status", svc.Runtime.Status()
		}))
		protected.GET("/ws/console", wsHandler.Serve(websocket.RoomConsole, nil))
	}

	if svc.Metrics != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(svc.Metrics.Handler()))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
