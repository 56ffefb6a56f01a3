package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/hrdash/internal/app"
	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/handlers"
	"github.com/charlesng35/hrdash/internal/middleware"
	"github.com/charlesng35/hrdash/internal/realtime"
)

// NewRouter builds the Gin engine, wires middleware and registers the dev
// server routes. chatOpts are passed through to the interview chat handler.
func NewRouter(jwt *iauth.JWTService, hub *realtime.Hub, cfg *app.Config, chatOpts ...handlers.InterviewChatOption) (*gin.Engine, error) {
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Public endpoints
	r.GET("/health", handlers.Health(time.Now()))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The websocket handshake authenticates itself so query tokens work.
	registerRealtimeRoutes(r, handlers.NewRealtimeHandler(hub, jwt))

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	chat := handlers.NewInterviewChatHandler(interviewWindows(cfg.DevServer.Interviews), chatOpts...)
	registerInterviewRoutes(api, chat)
	registerEventRoutes(api, handlers.NewEventsHandler(hub))

	// Fallback for unknown routes
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func interviewWindows(cfg []app.InterviewWindow) []handlers.InterviewWindow {
	windows := make([]handlers.InterviewWindow, 0, len(cfg))
	for _, w := range cfg {
		windows = append(windows, handlers.InterviewWindow{
			SubjectID: w.SubjectID,
			StartsAt:  w.StartsAt,
			EndsAt:    w.EndsAt,
		})
	}
	return windows
}
