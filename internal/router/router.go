package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/rx-portal/internal/handler/health"
	"github.com/jwalitptl/rx-portal/internal/handler/prescription"
	promhandler "github.com/jwalitptl/rx-portal/internal/handler/prometheus"
	"github.com/jwalitptl/rx-portal/internal/middleware"
	"github.com/jwalitptl/rx-portal/pkg/httputil"
)

type Router struct {
	engine        *gin.Engine
	prescriptionH *prescription.Handler
	healthH       *health.Handler
	metricsH      *promhandler.Handler
	config        RouterConfig
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
	CORSConfig       middleware.CORSConfig
}

func NewRouter(
	prescriptionH *prescription.Handler,
	healthH *health.Handler,
	metricsH *promhandler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine:        engine,
		prescriptionH: prescriptionH,
		healthH:       healthH,
		metricsH:      metricsH,
		config:        config,
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		metricsH.Middleware(),
		middleware.ErrorHandler(),
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	engine.NoRoute(func(c *gin.Context) {
		httputil.RespondWithStatus(c, http.StatusNotFound, httputil.MsgRouteNotFound)
	})

	return r
}

func (r *Router) Setup() *gin.Engine {
	r.engine.GET("/metrics", r.metricsH.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(middleware.Version(middleware.DefaultVersionConfig()))

	r.healthH.RegisterRoutes(api)
	r.prescriptionH.RegisterRoutes(api, middleware.Cache(middleware.NoStoreCacheConfig()))

	return r.engine
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
