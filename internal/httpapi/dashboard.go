package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/billing"
	"voiceagent-platform/internal/calls"
	"voiceagent-platform/internal/followups"
	"voiceagent-platform/internal/reporting"
	"voiceagent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type FollowUpCanceller interface {
	Cancel(ctx context.Context, tenantID, id string) (followups.FollowUp, error)
}

type CallReader interface {
	Get(ctx context.Context, tenantID, callID string) (calls.Call, error)
}

type UsageReporter interface {
	UsageSummary(ctx context.Context, req reporting.UsageSummaryRequest) (reporting.UsageSummary, error)
}

type CancelAuditor interface {
	LogFollowUpCancelled(ctx context.Context, tenantID, actorUserID, actorRole, ip, followUpID string) error
}

// Dashboard groups the tenant-facing handlers mounted under /v1.
// Keep these thin: identity from context, call a service, return JSON.
type Dashboard struct {
	Auth      *auth.Manager
	Calls     CallReader
	FollowUps FollowUpCanceller
	Reports   UsageReporter
	Audit     CancelAuditor
}

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	TenantID string `json:"tenant_id" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

// DevLogin issues a token pair for arbitrary identities. It is only
// mounted outside production.
func (h Dashboard) DevLogin(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// Me echoes the caller's identity.
func (h Dashboard) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	tid, _ := auth.TenantID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
}

// GetCall returns one of the caller's calls.
// RBAC: owner, agent or analyst.
func (h Dashboard) GetCall(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := auth.TenantID(ctx)
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	call, err := h.Calls.Get(ctx, tenantID, c.Param("id"))
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// CancelFollowUp cancels one of the caller's pending follow-ups.
// RBAC: owner or agent.
func (h Dashboard) CancelFollowUp(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := auth.TenantID(ctx)
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	f, err := h.FollowUps.Cancel(ctx, tenantID, id)
	switch {
	case errors.Is(err, followups.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "follow-up not found"})
		return
	case errors.Is(err, followups.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "follow-up is not pending"})
		return
	case errors.Is(err, followups.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid follow-up id"})
		return
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}

	if h.Audit != nil {
		userID, _ := auth.UserID(ctx)
		role, _ := auth.Role(ctx)
		if err := h.Audit.LogFollowUpCancelled(ctx, tenantID, userID, role, c.ClientIP(), f.ID); err != nil {
			logger.From(ctx).Warn("audit follow-up cancel", "follow_up_id", f.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, f)
}

type usageQuery struct {
	Year  int `form:"year" binding:"omitempty,min=2000,max=9999"`
	Month int `form:"month" binding:"omitempty,min=1,max=12"`
}

// Usage returns the caller's usage summary for ?year=&month=, or the
// current period when omitted.
// RBAC: owner, analyst or finance.
func (h Dashboard) Usage(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := auth.TenantID(ctx)
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var q usageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
		return
	}
	if (q.Year == 0) != (q.Month == 0) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "year and month go together"})
		return
	}

	req := reporting.UsageSummaryRequest{TenantID: tenantID}
	if q.Year != 0 {
		req.Period = billing.Period{Year: q.Year, Month: time.Month(q.Month)}
	}
	sum, err := h.Reports.UsageSummary(ctx, req)
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	case errors.Is(err, billing.ErrAccountNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
