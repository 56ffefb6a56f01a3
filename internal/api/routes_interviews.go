package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hrdash/internal/handlers"
)

func registerInterviewRoutes(api *gin.RouterGroup, handler *handlers.InterviewChatHandler) {
	group := api.Group("/interviews")
	{
		group.POST("/chat", handler.Chat)
	}
}
