package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-platform/internal/audit"
	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/numbers"
	"voice-platform/internal/rbac"
	"voice-platform/internal/reporting"
	"voice-platform/internal/telephony"
	"voice-platform/internal/voice"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups the /v1 handlers. Keep these thin: parse and validate input,
// call the voice service, return JSON.
type Handlers struct {
	Auth  *auth.Manager
	Voice *voice.Service
	Audit *audit.Service

	// Reports is optional; without it /v1/reports answers 500.
	Reports *reporting.Service

	// WebhookURL overrides the carrier callback for outbound calls.
	WebhookURL string
}

// --- Auth ---

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// IssueToken mints a token pair for a tenant user. RBAC: super_admin.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id and a known role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "tenant_id": id.TenantID, "role": id.Role})
}

// --- Calls ---

type startCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// StartCall places an outbound call. RBAC: owner, operator.
func (h Handlers) StartCall(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Voice.InitiateCall(c.Request.Context(), voice.InitiateCallRequest{
		TenantID:   tenantID,
		To:         req.To,
		From:       req.From,
		WebhookURL: h.WebhookURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calls":        h.Voice.ActiveCalls(tenantID),
		"active_total": h.Voice.ActiveCallCount(),
	})
}

func (h Handlers) ListCalls(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Voice.ListCalls(c.Request.Context(), tenantID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h Handlers) GetCall(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	call, err := h.Voice.GetCall(c.Request.Context(), tenantID, c.Param("call_control_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// HangupCall ends a live call. RBAC: owner, operator.
func (h Handlers) HangupCall(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	if err := h.Voice.EndCall(c.Request.Context(), tenantID, c.Param("call_control_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) CallEvents(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	evs, err := h.Audit.CallEvents(c.Request.Context(), tenantID, c.Param("call_control_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// --- Numbers ---

func (h Handlers) ListNumbers(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	list, err := h.Voice.ListNumbers(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": list})
}

func (h Handlers) SearchNumbers(c *gin.Context) {
	if _, ok := tenant(c); !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	req := telephony.SearchNumbersRequest{
		CountryCode: c.DefaultQuery("country_code", "US"),
		AreaCode:    c.Query("area_code"),
		Contains:    c.Query("contains"),
		Limit:       limit,
	}
	list, err := h.Voice.SearchNumbers(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": list})
}

type provisionNumberRequest struct {
	Number string `json:"number"`
}

// ProvisionNumber buys a number for the caller's tenant. RBAC: owner.
func (h Handlers) ProvisionNumber(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	var req provisionNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := h.Voice.ProvisionNumber(c.Request.Context(), tenantID, req.Number)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ReleaseNumber returns a number to the carrier. RBAC: owner.
func (h Handlers) ReleaseNumber(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	if err := h.Voice.ReleaseNumber(c.Request.Context(), tenantID, c.Param("number")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Reports ---

// CallsReport summarizes the tenant's calls. from/to are RFC3339; the default
// window is the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		if c.Query("from") == "" {
			from = to.Add(-24 * time.Hour)
		}
	}
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID:  tenantID,
		Range:     reporting.TimeRange{From: from, To: to},
		Direction: c.Query("direction"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func tenant(c *gin.Context) (string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tenantID, true
}

// writeError maps domain errors to status codes. Unknown errors are logged and
// reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, voice.ErrInvalidArgument), errors.Is(err, numbers.ErrInvalidNumber), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, numbers.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, numbers.ErrAlreadyProvisioned):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrCapacityExceeded):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "at capacity"})
	case errors.Is(err, telephony.ErrUpstream):
		logger.FromGin(c).Warn("carrier request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "carrier request failed"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
