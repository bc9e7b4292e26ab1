package server

import (
	"context"

	"github.com/abduss/imgstore/internal/auth"
	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/item"
	"github.com/abduss/imgstore/internal/logger"
	"github.com/abduss/imgstore/internal/metrics"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	DB            Pinger
	Storage       storage.Backend
	Logger        *zap.Logger
	AuthService   *auth.Service
	BucketService *bucket.Service
	ItemService   *item.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
// Everything that mutates buckets or items sits behind the access gate; the
// item download link is public.
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics.InitMetrics()

	router := gin.New()
	// ClientIP keys the auth rate limiter, so forwarding headers only count
	// when they come from a configured proxy.
	if err := router.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		log.Error("invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(logger.Middleware(log))
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	public := router.Group("")
	if deps.ItemService != nil {
		item.RegisterPublicRoutes(public, deps.ItemService)
	}

	if deps.AuthService != nil {
		limiter := auth.NewRateLimiter(deps.Config.Auth.RatePerSecond, deps.Config.Auth.Burst)
		auth.RegisterRoutes(public, deps.AuthService, limiter.Middleware())

		protected := router.Group("")
		protected.Use(auth.AuthMiddleware(deps.AuthService))

		if deps.BucketService != nil {
			bucket.RegisterRoutes(protected, deps.BucketService)
		}
		if deps.ItemService != nil {
			item.RegisterRoutes(protected, deps.ItemService)
		}
	}

	return router
}
