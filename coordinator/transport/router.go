package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	"github.com/telemeet/sfu-coordinator/engine"
	"github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

const healthPingTimeout = 3 * time.Second

// Router is the admin/ops HTTP surface: liveness plus read-only room
// inspection. It never mutates coordinator state.
type Router struct {
	engineAPI engine.API
	registry  *registry.Registry
	ginEngine *gin.Engine
	logger    *log.Logger
}

func NewRouter(
	engineAPI engine.API,
	reg *registry.Registry,
	allowedOrigins []string,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	ginEngine.Use(otelgin.Middleware("sfu-coordinator"))

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	ginEngine.Use(cors.New(corsConfig))

	r := &Router{
		engineAPI: engineAPI,
		registry:  reg,
		ginEngine: ginEngine,
		logger:    logger,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.ginEngine.GET("/health", r.healthCheck)

	api := r.ginEngine.Group("/api")
	api.GET("/rooms", r.listRooms)
	api.GET("/rooms/:roomId", r.describeRoom)
	api.GET("/stats", r.stats)
}

// healthCheck reports coordinator liveness and whether the media engine
// answers. An unreachable engine degrades the status without taking the
// endpoint down.
func (r *Router) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	healthChecksTotal.Add(ctx, 1)

	engineStatus := "ok"
	status := http.StatusOK
	if err := r.engineAPI.Ping(ctx); err != nil {
		r.logger.Warn("Engine ping failed on health check", log.Error(err))
		engineUnreachable.Add(ctx, 1)
		engineStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    "ok",
		"engine":    engineStatus,
		"timestamp": time.Now().Unix(),
	})
}

func (r *Router) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms": r.registry.Rooms(),
	})
}

func (r *Router) describeRoom(c *gin.Context) {
	roomLookupsTotal.Add(c.Request.Context(), 1)

	info, err := r.registry.Describe(c.Param("roomId"))
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			roomLookupsMissing.Add(c.Request.Context(), 1)
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (r *Router) stats(c *gin.Context) {
	c.JSON(http.StatusOK, r.registry.Stats())
}

func (r *Router) Handler() http.Handler {
	return r.ginEngine
}
