package server

import (
	"net/http"

	"github.com/abduss/imgstore/internal/logger"
	"github.com/gin-gonic/gin"
)

// corsMiddleware enables basic CORS for browser clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		} else {
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, "+logger.CorrelationIDHeader)
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, "+logger.CorrelationIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
