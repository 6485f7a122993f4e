package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/LicenseGuard/internal/reconcile"
	log "github.com/sirupsen/logrus"
)

// Reconciler runs one expiry reconciliation pass.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// ReconcileHandler lets an admin trigger the reconciler.
type ReconcileHandler struct {
	reconciler Reconciler
}

// NewReconcileHandler constructs a reconcile handler.
func NewReconcileHandler(reconciler Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

// Run executes one reconciliation pass and returns the transition counts.
func (h *ReconcileHandler) Run(c *gin.Context) {
	result, errRun := h.reconciler.RunOnce(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("admin reconcile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	username, _ := c.Get("adminUsername")
	log.Infof("admin %v reconciled licenses: alive=%d expired=%d", username, result.AliveSet, result.ExpiresSet)
	c.JSON(http.StatusOK, result)
}
