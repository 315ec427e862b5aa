package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/api/handler"
	"github.com/qs3c/site_structure_server/internal/api/middleware"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

type Router struct {
	structureHandler *handler.StructureHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	gatherer         prometheus.Gatherer
	cfg              *config.Config
	log              *logger.Logger
}

func NewRouter(
	structureHandler *handler.StructureHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	gatherer prometheus.Gatherer,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logger.Default()
	}
	return &Router{
		structureHandler: structureHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		gatherer:         gatherer,
		cfg:              cfg,
		log:              log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.log))
	engine.Use(middleware.CORS(r.cfg.CORS))

	if r.healthHandler != nil {
		engine.GET("/health", r.healthHandler.Handle)
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))

	api := engine.Group("/api/v1")
	{
		if r.websocketHandler != nil {
			api.GET("/ws", r.websocketHandler.Handle)
		}

		companies := api.Group("/companies/:id")
		{
			companies.GET("/structure", r.structureHandler.Get)
			companies.POST("/structure/refresh", r.structureHandler.Refresh)
			companies.GET("/structure/pages", r.structureHandler.Pages)
			companies.GET("/job", r.structureHandler.Job)
		}

		structures := api.Group("/structures")
		{
			structures.GET("/high-value-pages", r.structureHandler.HighValuePages)
			structures.GET("/bi-summary", r.structureHandler.BISummary)
			structures.POST("/enqueue-all", r.structureHandler.EnqueueAll)
		}
	}

	return engine
}
