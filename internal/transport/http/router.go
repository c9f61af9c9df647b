package bridgehttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ftbridge/internal/engine"

	"github.com/gin-gonic/gin"
)

// Router exposes the account and polling query endpoints.
type Router struct {
	engine *engine.SyncEngine
}

// NewRouter builds the API router.
func NewRouter(e *engine.SyncEngine) *Router {
	return &Router{engine: e}
}

// Register mounts the /api routes onto the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/accounts", r.handleAccounts)
	group.GET("/accounts/:id/snapshot", r.handleSnapshot)
	group.GET("/accounts/:id/orders/grouped", r.handleGroupedOrders)
	group.POST("/accounts/:id/refresh", r.handleRefresh)
	group.GET("/polling/status", r.handlePollingStatus)
	group.POST("/polling/:id/mode", r.handleForceMode)
	group.GET("/gate/stats", r.handleGateStats)
}

func (r *Router) handleAccounts(c *gin.Context) {
	statuses := r.engine.PollingStatus()
	ids := make([]int64, 0, len(statuses))
	for _, st := range statuses {
		ids = append(ids, st.AccountID)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": ids})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}
	snap, err := r.engine.AccountSnapshot(accountID)
	if err != nil {
		if errors.Is(err, engine.ErrNoData) {
			c.JSON(http.StatusAccepted, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleGroupedOrders(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}
	groups, err := r.engine.GroupedOrders(accountID)
	if err != nil {
		if errors.Is(err, engine.ErrNoData) {
			c.JSON(http.StatusAccepted, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": groups})
}

func (r *Router) handleRefresh(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}
	if err := r.engine.ForceRefresh(c.Request.Context(), accountID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	snap, err := r.engine.AccountSnapshot(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handlePollingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": r.engine.PollingStatus()})
}

// forceModeRequest is the body for POST /polling/:id/mode.
type forceModeRequest struct {
	Mode       string `json:"mode" binding:"required"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"durationMs"`
}

func (r *Router) handleForceMode(c *gin.Context) {
	accountID, ok := parseAccountID(c)
	if !ok {
		return
	}
	var req forceModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	duration := time.Duration(req.DurationMS) * time.Millisecond
	if err := r.engine.ForcePollingMode(accountID, req.Mode, req.Reason, duration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": req.Mode})
}

func (r *Router) handleGateStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.GateStats())
}

func parseAccountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return 0, false
	}
	return id, true
}
