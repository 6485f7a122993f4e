package front

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	handlers "github.com/router-for-me/LicenseGuard/internal/http/api/front/handlers"
	"github.com/router-for-me/LicenseGuard/internal/ratelimit"
)

// Deps are the collaborators behind the device-facing routes.
type Deps struct {
	Verifier       handlers.Verifier
	Reconciler     handlers.Reconciler
	Limiter        *ratelimit.Guard
	ResponseFormat string
	CronSecret     string
	Gatherer       prometheus.Gatherer
}

// RegisterFrontRoutes registers the verification, cleanup and metrics routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil {
		return
	}

	api := r.Group("/api")

	if deps.Verifier != nil {
		verifyHandler := handlers.NewVerifyHandler(deps.Verifier, deps.ResponseFormat)
		api.POST("/verify", ratelimit.Middleware(deps.Limiter), verifyHandler.Verify)
	}

	if deps.Reconciler != nil {
		cleanupHandler := handlers.NewCleanupHandler(deps.Reconciler, deps.CronSecret)
		api.GET("/cleanup", cleanupHandler.Cleanup)
	}

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
}
