package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/LicenseGuard/internal/license"
	log "github.com/sirupsen/logrus"
)

// maxVerifyBodyBytes caps the verification request body.
const maxVerifyBodyBytes = 4 << 10

// Verifier decides verification outcomes.
type Verifier interface {
	Check(ctx context.Context, licenseKey, fingerprint string) (license.Outcome, error)
}

// VerifyHandler serves the device-facing activation check.
type VerifyHandler struct {
	verifier Verifier
	format   string
}

// NewVerifyHandler constructs a VerifyHandler answering in format.
func NewVerifyHandler(verifier Verifier, format string) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, format: format}
}

// verifyRequest is the strict request shape; both fields must be strings.
type verifyRequest struct {
	F *string `json:"f"` // Device fingerprint.
	L *string `json:"l"` // License key.
}

// Verify decodes {f, l} and answers with the encoded outcome token.
// Every failure is reported as the invalid token with status 200.
func (h *VerifyHandler) Verify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxVerifyBodyBytes)

	var body verifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.F == nil || body.L == nil {
		c.String(http.StatusOK, license.OutcomeInvalid.Encode(h.format))
		return
	}

	outcome, reason := h.verifier.Check(c.Request.Context(), *body.L, *body.F)
	if reason != nil {
		log.WithFields(log.Fields{
			"outcome": outcome.String(),
			"reason":  reason.Error(),
		}).Debug("license verification denied")
	}
	c.String(http.StatusOK, outcome.Encode(h.format))
}
