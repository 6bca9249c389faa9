package httpapi

import (
	"net/http"

	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/metrics"
	"voiceagent-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Routes is everything Mount needs. Auth is required for /v1.
type Routes struct {
	Webhooks    Webhooks
	Dashboard   Dashboard
	Auth        *auth.Manager
	RateLimiter *IPRateLimiter
	Metrics     *metrics.Metrics
	// DevLogin mounts POST /v1/auth/login; never enable in production.
	DevLogin bool
}

// Mount registers all routes on r. Handlers delegate to internal modules.
func Mount(r *gin.Engine, rt Routes) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if rt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.Metrics.Handler()))
	}

	hooks := r.Group("/webhooks")
	hooks.Use(rt.RateLimiter.Middleware(), rt.Webhooks.RequireSecret())
	{
		hooks.POST("/voice", rt.Webhooks.Voice)
		hooks.POST("/twilio/status", rt.Webhooks.TwilioStatus)
	}

	if rt.Auth == nil {
		return
	}
	v1 := r.Group("/v1")
	if rt.DevLogin {
		v1.POST("/auth/login", rt.Dashboard.DevLogin)
	}

	authed := v1.Group("")
	authed.Use(auth.RequireAccessToken(rt.Auth), rbac.RequireTenant())
	{
		authed.GET("/me", rt.Dashboard.Me)

		authed.GET("/calls/:id",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleAnalyst),
			rt.Dashboard.GetCall,
		)
		authed.POST("/followups/:id/cancel",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent),
			rt.Dashboard.CancelFollowUp,
		)
		authed.GET("/usage",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleFinance),
			rt.Dashboard.Usage,
		)
	}
}
