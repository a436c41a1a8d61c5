package core

import (
	"net/http"
	"strconv"

	"messages-gateway/models"

	"github.com/gin-gonic/gin"
)

// HandleModels 处理 GET /v1/models
func (h *Handler) HandleModels(c *gin.Context) {
	c.JSON(http.StatusOK, models.ModelsListResponse{
		Object:  "list",
		Data:    h.catalog.List(c.Request.Context()),
		HasMore: false,
	})
}

// HandleStats 处理 GET /admin/stats
func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.requestLog.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	type row struct {
		models.ModelStats
		AvgLatency float64 `json:"avg_latency"`
	}
	out := make([]row, 0, len(stats))
	for i := range stats {
		out = append(out, row{ModelStats: stats[i], AvgLatency: stats[i].AvgLatency()})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// HandleRecentLogs 处理 GET /admin/logs?limit=N，默认 50 条，最多 500 条
func (h *Handler) HandleRecentLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	logs, err := h.requestLog.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}
