package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hrdash/pkg/response"
)

// Health returns a simple status payload useful for readiness checks.
func Health(started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	}
}
