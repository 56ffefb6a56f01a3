package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hrdash/internal/handlers"
)

func registerEventRoutes(api *gin.RouterGroup, handler *handlers.EventsHandler) {
	api.POST("/events", handler.Publish)
}
