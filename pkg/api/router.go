package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/urmzd/ecovent/pkg/api/handlers"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine     *gin.Engine
	controller device.Controller
	subscriber device.EventSubscriber
	validator  *schema.Validator
	gatherer   prometheus.Gatherer
}

// NewRouter creates a new API router. A nil gatherer disables /metrics.
func NewRouter(controller device.Controller, subscriber device.EventSubscriber, validator *schema.Validator, gatherer prometheus.Gatherer) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:     engine,
		controller: controller,
		subscriber: subscriber,
		validator:  validator,
		gatherer:   gatherer,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	if r.gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.controller)
	r.engine.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		discoveryHandler := handlers.NewDiscoveryHandler(r.controller, r.subscriber)
		v1.GET("/events", discoveryHandler.Events)
		discovery := v1.Group("/discovery")
		{
			discovery.POST("/search", discoveryHandler.Search)
			discovery.GET("/events", discoveryHandler.Events)
		}

		devicesHandler := handlers.NewDevicesHandler(r.controller)
		controlHandler := handlers.NewControlHandler(r.controller, r.validator)
		devices := v1.Group("/devices")
		{
			devices.GET("", devicesHandler.ListDevices)
			devices.POST("", devicesHandler.RegisterDevice)
			devices.GET("/:id", devicesHandler.GetDevice)
			devices.PATCH("/:id", devicesHandler.RenameDevice)
			devices.DELETE("/:id", devicesHandler.RemoveDevice)

			devices.GET("/:id/state", controlHandler.GetState)
			devices.POST("/:id/state", controlHandler.SetState)
			devices.POST("/:id/actions/:action", controlHandler.RunAction)

			streamHandler := handlers.NewStreamHandler(r.controller, r.subscriber)
			devices.GET("/:id/ws", streamHandler.Stream)
		}
	}
}

// Handler exposes the engine for http.Server and tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
