package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/LicenseGuard/internal/reconcile"
	log "github.com/sirupsen/logrus"
)

// Reconciler runs one expiry reconciliation pass.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// CleanupHandler exposes the reconciler to an external scheduler.
type CleanupHandler struct {
	reconciler Reconciler
	secret     string
}

// NewCleanupHandler constructs a CleanupHandler guarded by the cron secret.
func NewCleanupHandler(reconciler Reconciler, secret string) *CleanupHandler {
	return &CleanupHandler{reconciler: reconciler, secret: strings.TrimSpace(secret)}
}

// Cleanup runs the reconciler once when the bearer token matches.
func (h *CleanupHandler) Cleanup(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}
	result, errRun := h.reconciler.RunOnce(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("cleanup: reconcile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// authorized compares the header with "Bearer {secret}". An empty secret
// never authorizes.
func (h *CleanupHandler) authorized(header string) bool {
	if h.secret == "" {
		return false
	}
	expected := "Bearer " + h.secret
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
