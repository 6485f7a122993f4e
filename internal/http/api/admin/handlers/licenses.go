package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	dbutil "github.com/router-for-me/LicenseGuard/internal/db"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/models"
	"gorm.io/gorm"
)

const (
	maxKeyGenerationAttempts = 5
	defaultLicensePageSize   = 50
	maxLicensePageSize       = 500
)

var (
	errInvalidFingerprint = errors.New("fingerprints must be at least 10 characters")
	errTooManyDevices     = errors.New("fingerprints exceed the plan device limit")
)

// LicenseHandler manages admin CRUD endpoints for licenses.
type LicenseHandler struct {
	db    *gorm.DB       // Database handle for license records.
	cache license.Cache  // Lookup cache; nil when disabled.
	now   func() time.Time
}

// NewLicenseHandler constructs a license handler.
func NewLicenseHandler(db *gorm.DB, cache license.Cache) *LicenseHandler {
	return &LicenseHandler{db: db, cache: cache, now: time.Now}
}

// createLicenseRequest captures the payload for creating a license.
type createLicenseRequest struct {
	LicenseKey   string   `json:"license_key"`  // Optional; generated when empty.
	PlanID       uint64   `json:"plan_id"`      // Owning plan.
	Fingerprints []string `json:"fingerprints"` // Pre-bound devices.
	ExpiresAt    string   `json:"expires_at"`   // RFC 3339 expiry instant.
}

// Create validates input and inserts a new license.
func (h *LicenseHandler) Create(c *gin.Context) {
	var body createLicenseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	key := strings.TrimSpace(body.LicenseKey)
	if key != "" && !license.ValidKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_key format"})
		return
	}
	if body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan_id is required"})
		return
	}
	expiresAt, errExpires := time.Parse(time.RFC3339, strings.TrimSpace(body.ExpiresAt))
	if errExpires != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC 3339"})
		return
	}

	ctx := c.Request.Context()
	plan, ok := h.loadPlan(c, body.PlanID)
	if !ok {
		return
	}
	fingerprints, errFingerprints := normalizeFingerprints(body.Fingerprints, plan.DeviceLimit)
	if errFingerprints != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errFingerprints.Error()})
		return
	}
	encoded, errEncode := models.EncodeFingerprints(fingerprints)
	if errEncode != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode fingerprints failed"})
		return
	}

	now := h.now().UTC()
	row := models.License{
		ID:           uuid.NewString(),
		Key:          key,
		PlanID:       plan.ID,
		Fingerprints: encoded,
		ExpiresAt:    expiresAt.UTC(),
		IsExpired:    !expiresAt.After(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if key != "" {
		if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
			if dbutil.IsUniqueViolation(errCreate) {
				c.JSON(http.StatusConflict, gin.H{"error": "license_key already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create license failed"})
			return
		}
		invalidateKeys(ctx, h.cache, row.Key)
		c.JSON(http.StatusCreated, h.formatLicense(&row))
		return
	}

	for attempt := 0; attempt < maxKeyGenerationAttempts; attempt++ {
		generated, errGenerate := license.GenerateKey(h.now())
		if errGenerate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generate license key failed"})
			return
		}
		row.Key = generated
		errCreate := h.db.WithContext(ctx).Create(&row).Error
		if errCreate == nil {
			invalidateKeys(ctx, h.cache, row.Key)
			c.JSON(http.StatusCreated, h.formatLicense(&row))
			return
		}
		if !dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create license failed"})
			return
		}
	}
	c.JSON(http.StatusConflict, gin.H{"error": "could not allocate a unique license_key"})
}

// List returns licenses filtered by key, plan, expiry flag or bound device.
func (h *LicenseHandler) List(c *gin.Context) {
	var (
		keyQ         = strings.TrimSpace(c.Query("q"))
		planIDQ      = strings.TrimSpace(c.Query("plan_id"))
		expiredQ     = strings.TrimSpace(c.Query("expired"))
		fingerprintQ = strings.TrimSpace(c.Query("fingerprint"))
		page         = parsePositiveInt(c.Query("page"), 1)
		pageSize     = parsePositiveInt(c.Query("page_size"), defaultLicensePageSize)
	)
	if pageSize > maxLicensePageSize {
		pageSize = maxLicensePageSize
	}

	q := h.db.WithContext(c.Request.Context()).Model(&models.License{})
	if keyQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+keyQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "license_key"), pattern)
	}
	if planIDQ != "" {
		planID, errParse := strconv.ParseUint(planIDQ, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan_id"})
			return
		}
		q = q.Where("plan_id = ?", planID)
	}
	if expiredQ != "" {
		expired, errParse := strconv.ParseBool(expiredQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expired"})
			return
		}
		q = q.Where("is_expired = ?", expired)
	}
	if fingerprintQ != "" {
		q = q.Where(dbutil.JSONArrayContainsExpr(h.db, "fingerprints"), dbutil.JSONArrayContainsValue(h.db, fingerprintQ))
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list licenses failed"})
		return
	}

	var rows []models.License
	if errFind := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list licenses failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatLicense(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"licenses":  out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get fetches a license by ID.
func (h *LicenseHandler) Get(c *gin.Context) {
	row, ok := h.loadLicense(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.formatLicense(row))
}

// updateLicenseRequest captures optional fields for license updates.
type updateLicenseRequest struct {
	LicenseKey   *string   `json:"license_key"`  // Optional key rename.
	PlanID       *uint64   `json:"plan_id"`      // Optional plan move.
	Fingerprints *[]string `json:"fingerprints"` // Optional replacement device set.
	ExpiresAt    *string   `json:"expires_at"`   // Optional RFC 3339 expiry.
	IsExpired    *bool     `json:"is_expired"`   // Optional expired flag override.
}

// Update validates and applies license field updates.
func (h *LicenseHandler) Update(c *gin.Context) {
	existing, ok := h.loadLicense(c)
	if !ok {
		return
	}
	var body updateLicenseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]any{
		"updated_at": h.now().UTC(),
	}
	newKey := existing.Key
	if body.LicenseKey != nil {
		newKey = strings.TrimSpace(*body.LicenseKey)
		if !license.ValidKey(newKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license_key format"})
			return
		}
		updates["license_key"] = newKey
	}

	planID := existing.PlanID
	if body.PlanID != nil {
		planID = *body.PlanID
		updates["plan_id"] = planID
	}
	plan, okPlan := h.loadPlan(c, planID)
	if !okPlan {
		return
	}

	fingerprints, errCurrent := existing.FingerprintList()
	if errCurrent != nil {
		fingerprints = []string{}
	}
	fingerprintsChanged := false
	if body.Fingerprints != nil {
		fingerprints = *body.Fingerprints
		fingerprintsChanged = true
	}
	if fingerprintsChanged || body.PlanID != nil {
		normalized, errFingerprints := normalizeFingerprints(fingerprints, plan.DeviceLimit)
		if errFingerprints != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFingerprints.Error()})
			return
		}
		if fingerprintsChanged {
			encoded, errEncode := models.EncodeFingerprints(normalized)
			if errEncode != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "encode fingerprints failed"})
				return
			}
			updates["fingerprints"] = encoded
			updates["revision"] = gorm.Expr("revision + 1")
		}
	}

	if body.ExpiresAt != nil {
		expiresAt, errExpires := time.Parse(time.RFC3339, strings.TrimSpace(*body.ExpiresAt))
		if errExpires != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC 3339"})
			return
		}
		updates["expires_at"] = expiresAt.UTC()
	}
	if body.IsExpired != nil {
		updates["is_expired"] = *body.IsExpired
	}

	res := h.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", existing.ID).Updates(updates)
	if res.Error != nil {
		if dbutil.IsUniqueViolation(res.Error) {
			c.JSON(http.StatusConflict, gin.H{"error": "license_key already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	invalidateKeys(ctx, h.cache, existing.Key, newKey)

	var updated models.License
	if errFind := h.db.WithContext(ctx).First(&updated, "id = ?", existing.ID).Error; errFind != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, h.formatLicense(&updated))
}

// Delete removes a license by ID.
func (h *LicenseHandler) Delete(c *gin.Context) {
	existing, ok := h.loadLicense(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Delete(&models.License{}, "id = ?", existing.ID)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	invalidateKeys(ctx, h.cache, existing.Key)
	c.Status(http.StatusNoContent)
}

// loadLicense resolves the :id path parameter and writes the error response on failure.
func (h *LicenseHandler) loadLicense(c *gin.Context) (*models.License, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, errParse := uuid.Parse(id); errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	var row models.License
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &row, true
}

// loadPlan fetches the referenced plan and writes the error response on failure.
func (h *LicenseHandler) loadPlan(c *gin.Context, planID uint64) (*models.Plan, bool) {
	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).First(&plan, planID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "plan not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &plan, true
}

// formatLicense converts a license model into a response payload.
func (h *LicenseHandler) formatLicense(l *models.License) gin.H {
	fingerprints, errDecode := l.FingerprintList()
	if errDecode != nil {
		fingerprints = []string{}
	}
	return gin.H{
		"id":           l.ID,
		"license_key":  l.Key,
		"plan_id":      l.PlanID,
		"fingerprints": fingerprints,
		"revision":     l.Revision,
		"expires_at":   l.ExpiresAt,
		"is_expired":   l.IsExpired,
		"used_at":      l.UsedAt,
		"created_at":   l.CreatedAt,
		"updated_at":   l.UpdatedAt,
	}
}

// normalizeFingerprints trims, drops blanks and de-duplicates in order.
func normalizeFingerprints(raw []string, deviceLimit int) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, fp := range raw {
		trimmed := strings.TrimSpace(fp)
		if trimmed == "" {
			continue
		}
		if !license.ValidFingerprint(trimmed) {
			return nil, errInvalidFingerprint
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if deviceLimit > 0 && len(out) > deviceLimit {
		return nil, errTooManyDevices
	}
	return out, nil
}

// parsePositiveInt parses a positive integer query value with a fallback.
func parsePositiveInt(raw string, fallback int) int {
	n, errParse := strconv.Atoi(strings.TrimSpace(raw))
	if errParse != nil || n <= 0 {
		return fallback
	}
	return n
}
