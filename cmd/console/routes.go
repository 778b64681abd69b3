package main

import (
	"call-console/internal/auth"
	"call-console/internal/httpapi"
	"call-console/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
		})

		// CONSOLE routes: live call cards, the event feed, and relay health.
		consoleGroup := v1.Group("/console")
		consoleGroup.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)...)
		{
			consoleGroup.GET("/calls", h.GetConsoleCalls)
			consoleGroup.GET("/events", h.ConsoleEvents)
			consoleGroup.GET("/stream", h.GetStreamStatus)
		}

		// CALL ACTION routes
		calls := v1.Group("/calls")
		calls.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)...)
		{
			calls.POST("/dial", h.Dial)
			calls.POST("/accept", h.Accept)
			calls.POST("/reject", h.Reject)
			calls.POST("/hold", h.Hold)
			calls.POST("/resume", h.Resume)
			calls.POST("/conference", h.Conference)
			calls.POST("/disconnect", h.Disconnect)

			// HISTORY routes
			calls.GET("/history", h.GetCallHistory)
			calls.GET("/summary", h.GetDailySummary)
		}
	}
}
