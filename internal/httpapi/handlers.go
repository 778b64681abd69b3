package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"call-console/internal/auth"
	"call-console/internal/console"
	"call-console/internal/dispatch"
	"call-console/internal/history"
	"call-console/internal/rbac"
	"call-console/internal/reconciler"
	"call-console/internal/stream"

	"github.com/gin-gonic/gin"
)

// CallActions is the operator command surface. *dispatch.Dispatcher satisfies it.
type CallActions interface {
	Dial(ctx context.Context, destination string) (reconciler.Snapshot, error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Hold(ctx context.Context) error
	Resume(ctx context.Context) error
	Conference(ctx context.Context, participant string) error
	Hangup(ctx context.Context) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Hub     *console.Hub
	Actions CallActions
	History *history.Service
	Stream  *stream.Client
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Console ---

// GetConsoleCalls returns the live dashboard state: both call cards and any
// persistent notices.
func (h Handlers) GetConsoleCalls(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return
	}
	c.JSON(http.StatusOK, h.Hub.Snapshot())
}

// ConsoleEvents streams dashboard updates as server-sent events until the
// client disconnects.
func (h Handlers) ConsoleEvents(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "console not configured"})
		return
	}

	id, ch := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("update", u)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetStreamStatus reports the relay connection health.
func (h Handlers) GetStreamStatus(c *gin.Context) {
	if h.Stream == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stream not configured"})
		return
	}
	c.JSON(http.StatusOK, h.Stream.Status())
}

// --- History ---

func (h Handlers) GetCallHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}

	records, err := h.History.ListRecent(c.Request.Context(), workspaceID, queryInt(c, "limit"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h Handlers) GetDailySummary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}

	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	sum, err := h.History.Summary(c.Request.Context(), workspaceID, day)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary lookup failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Call actions ---

type dialRequest struct {
	Destination string `json:"destination"`
}

func (h Handlers) Dial(c *gin.Context) {
	if h.Actions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Destination == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination required"})
		return
	}

	snap, err := h.Actions.Dial(c.Request.Context(), req.Destination)
	if err != nil {
		abortDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) Accept(c *gin.Context)     { h.simpleAction(c, func(ctx context.Context) error { return h.Actions.Accept(ctx) }) }
func (h Handlers) Reject(c *gin.Context)     { h.simpleAction(c, func(ctx context.Context) error { return h.Actions.Reject(ctx) }) }
func (h Handlers) Hold(c *gin.Context)       { h.simpleAction(c, func(ctx context.Context) error { return h.Actions.Hold(ctx) }) }
func (h Handlers) Resume(c *gin.Context)     { h.simpleAction(c, func(ctx context.Context) error { return h.Actions.Resume(ctx) }) }
func (h Handlers) Disconnect(c *gin.Context) { h.simpleAction(c, func(ctx context.Context) error { return h.Actions.Hangup(ctx) }) }

type conferenceRequest struct {
	Participant string `json:"participant"`
}

func (h Handlers) Conference(c *gin.Context) {
	if h.Actions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	var req conferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Participant == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "participant required"})
		return
	}
	if err := h.Actions.Conference(c.Request.Context(), req.Participant); err != nil {
		abortDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) simpleAction(c *gin.Context, fn func(ctx context.Context) error) {
	if h.Actions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	if err := fn(c.Request.Context()); err != nil {
		abortDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func abortDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNoCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no call in the required state"})
	case errors.Is(err, dispatch.ErrDialCapFull):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent dial limit reached"})
	case errors.Is(err, dispatch.ErrGatewayFailed):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
