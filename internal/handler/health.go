package handler

import (
	"payment-core/internal/handler/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck 存活探针
func HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":  "UP",
		"version": "1.0.0",
		"service": "payment-server",
	})
}
