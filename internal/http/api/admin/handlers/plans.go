package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	dbutil "github.com/router-for-me/LicenseGuard/internal/db"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	maxPlanNameLength    = 100
	maxPlanExpiresLength = 255
)

// PlanHandler manages admin CRUD endpoints for plans.
type PlanHandler struct {
	db    *gorm.DB       // Database handle for plan records.
	cache license.Cache  // Lookup cache; nil when disabled.
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(db *gorm.DB, cache license.Cache) *PlanHandler {
	return &PlanHandler{db: db, cache: cache}
}

// createPlanRequest captures the payload for creating a plan.
type createPlanRequest struct {
	Name        string `json:"name"`         // Plan name.
	DeviceLimit int    `json:"device_limit"` // Max bound fingerprints per license.
	Expires     string `json:"expires"`      // Descriptive expiry label.
}

// validatePlanName trims and checks a plan name.
func validatePlanName(raw string) (string, string) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "name is required"
	}
	if utf8.RuneCountInString(name) > maxPlanNameLength {
		return "", "name must be at most 100 characters"
	}
	return name, ""
}

// validatePlanExpires trims and checks the expiry label.
func validatePlanExpires(raw string) (string, string) {
	expires := strings.TrimSpace(raw)
	if expires == "" {
		return "", "expires is required"
	}
	if utf8.RuneCountInString(expires) > maxPlanExpiresLength {
		return "", "expires must be at most 255 characters"
	}
	return expires, ""
}

// Create validates input and inserts a new plan.
func (h *PlanHandler) Create(c *gin.Context) {
	var body createPlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	name, msg := validatePlanName(body.Name)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if body.DeviceLimit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_limit must be a positive integer"})
		return
	}
	expires, msg := validatePlanExpires(body.Expires)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	ctx := c.Request.Context()
	taken, errTaken := h.nameTaken(ctx, name, 0)
	if errTaken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"error": "plan name already exists"})
		return
	}

	now := time.Now().UTC()
	plan := models.Plan{
		Name:        name,
		DeviceLimit: body.DeviceLimit,
		Expires:     expires,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errCreate := h.db.WithContext(ctx).Create(&plan).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "plan name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create plan failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatPlan(&plan))
}

// List returns all plans, optionally filtered by name.
func (h *PlanHandler) List(c *gin.Context) {
	nameQ := strings.TrimSpace(c.Query("name"))

	q := h.db.WithContext(c.Request.Context()).Model(&models.Plan{})
	if nameQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+nameQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "name"), pattern)
	}

	var rows []models.Plan
	if errFind := q.Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatPlan(&row))
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

// Get fetches a plan by ID.
func (h *PlanHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).First(&plan, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatPlan(&plan))
}

// updatePlanRequest captures optional fields for plan updates.
type updatePlanRequest struct {
	Name        *string `json:"name"`         // Optional name update.
	DeviceLimit *int    `json:"device_limit"` // Optional device limit.
	Expires     *string `json:"expires"`      // Optional expiry label.
}

// Update validates and applies plan field updates. A limit change drops the
// cached projections of the plan's licenses; already-bound devices stay bound.
func (h *PlanHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updatePlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	var existing models.Plan
	if errFind := h.db.WithContext(ctx).First(&existing, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if body.Name != nil {
		name, msg := validatePlanName(*body.Name)
		if msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		taken, errTaken := h.nameTaken(ctx, name, existing.ID)
		if errTaken != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if taken {
			c.JSON(http.StatusConflict, gin.H{"error": "plan name already exists"})
			return
		}
		updates["name"] = name
	}
	if body.DeviceLimit != nil {
		if *body.DeviceLimit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device_limit must be a positive integer"})
			return
		}
		updates["device_limit"] = *body.DeviceLimit
	}
	if body.Expires != nil {
		expires, msg := validatePlanExpires(*body.Expires)
		if msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		updates["expires"] = expires
	}

	res := h.db.WithContext(ctx).Model(&models.Plan{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if dbutil.IsUniqueViolation(res.Error) {
			c.JSON(http.StatusConflict, gin.H{"error": "plan name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if body.DeviceLimit != nil && *body.DeviceLimit != existing.DeviceLimit {
		h.invalidatePlanLicenses(ctx, existing.ID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a plan by ID. Plans still referenced by licenses are kept.
func (h *PlanHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx := c.Request.Context()
	var inUse int64
	if errCount := h.db.WithContext(ctx).Model(&models.License{}).Where("plan_id = ?", id).Count(&inUse).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if inUse > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "plan is referenced by licenses"})
		return
	}

	res := h.db.WithContext(ctx).Delete(&models.Plan{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// nameTaken reports whether another plan already uses name.
func (h *PlanHandler) nameTaken(ctx context.Context, name string, exceptID uint64) (bool, error) {
	var count int64
	q := h.db.WithContext(ctx).Model(&models.Plan{}).Where("name = ?", name)
	if exceptID > 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if errCount := q.Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// invalidatePlanLicenses drops cached projections for every license on the plan.
func (h *PlanHandler) invalidatePlanLicenses(ctx context.Context, planID uint64) {
	if h.cache == nil {
		return
	}
	var keys []string
	if errFind := h.db.WithContext(ctx).Model(&models.License{}).
		Where("plan_id = ?", planID).
		Pluck("license_key", &keys).Error; errFind != nil {
		log.WithError(errFind).Warn("plans: list license keys for cache invalidation failed")
		return
	}
	invalidateKeys(ctx, h.cache, keys...)
}

// formatPlan converts a plan model into a response payload.
func (h *PlanHandler) formatPlan(p *models.Plan) gin.H {
	return gin.H{
		"id":           p.ID,
		"name":         p.Name,
		"device_limit": p.DeviceLimit,
		"expires":      p.Expires,
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	}
}

// invalidateKeys drops cached projections for the given license keys.
func invalidateKeys(ctx context.Context, cache license.Cache, keys ...string) {
	if cache == nil {
		return
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if errInvalidate := cache.Invalidate(ctx, license.CacheKey(key)); errInvalidate != nil {
			log.WithError(errInvalidate).Warnf("cache invalidation failed for %s", key)
		}
	}
}
