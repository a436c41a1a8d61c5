package main

import (
	"net/http"
	"time"

	"messages-gateway/core"
	"messages-gateway/models"

	"github.com/gin-gonic/gin"
)

// handleRoot 返回服务信息
func handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    appName,
			"version": version,
			"endpoints": gin.H{
				"messages":     "/v1/messages",
				"count_tokens": "/v1/messages/count_tokens",
				"models":       "/v1/models",
				"health":       "/health",
				"admin_stats":  "/admin/stats",
				"admin_logs":   "/admin/logs",
			},
			"timestamp": time.Now().Unix(),
		})
	}
}

// handleHealth 处理健康检查
func handleHealth(router *core.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		backends := make([]string, 0, 2)
		for _, b := range router.Backends() {
			backends = append(backends, b.Name())
		}
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "ok",
			Backends:  backends,
			Timestamp: time.Now().Unix(),
		})
	}
}
