package httpapi

import (
	"voice-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the /v1 handlers on a group that already carries identity
// (RequireAccessToken in production).
func Register(v1 *gin.RouterGroup, h Handlers) {
	v1.GET("/me", h.Me)

	authGroup := v1.Group("/auth")
	authGroup.Use(rbac.RequireAnyRole(rbac.RoleSuperAdmin))
	{
		authGroup.POST("/tokens", h.IssueToken)
	}

	calls := v1.Group("/calls")
	calls.Use(rbac.RequireTenant())
	{
		calls.GET("", rbac.RequireAnyRole(rbac.Read...), h.ListCalls)
		calls.GET("/active", rbac.RequireAnyRole(rbac.Read...), h.ActiveCalls)
		calls.GET("/:call_control_id", rbac.RequireAnyRole(rbac.Read...), h.GetCall)
		calls.GET("/:call_control_id/events", rbac.RequireAnyRole(rbac.Read...), h.CallEvents)
		calls.POST("", rbac.RequireAnyRole(rbac.Operate...), h.StartCall)
		calls.DELETE("/:call_control_id", rbac.RequireAnyRole(rbac.Operate...), h.HangupCall)
	}

	nums := v1.Group("/numbers")
	nums.Use(rbac.RequireTenant())
	{
		nums.GET("", rbac.RequireAnyRole(rbac.Read...), h.ListNumbers)
		nums.GET("/available", rbac.RequireAnyRole(rbac.Manage...), h.SearchNumbers)
		nums.POST("", rbac.RequireAnyRole(rbac.Manage...), h.ProvisionNumber)
		nums.DELETE("/:number", rbac.RequireAnyRole(rbac.Manage...), h.ReleaseNumber)
	}

	reports := v1.Group("/reports")
	reports.Use(rbac.RequireTenant())
	reports.Use(rbac.RequireAnyRole(rbac.Read...))
	{
		reports.GET("/calls", h.CallsReport)
	}
}
