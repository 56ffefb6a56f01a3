package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/api"
	"github.com/charlesng35/hrdash/internal/app"
	"github.com/charlesng35/hrdash/internal/app/maintenance"
	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/handlers"
	"github.com/charlesng35/hrdash/internal/realtime"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	JWT       *iauth.JWTService
	Hub       *realtime.Hub
	Reminders *maintenance.Reminders
	Router    *gin.Engine
}

// bootstrapRuntime initialises the hub, reminder jobs and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger, replyDelay time.Duration) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.JWT, err = iauth.NewJWTService(cfg.DevServer.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Hub = realtime.NewHub()

	stack.Reminders = maintenance.NewReminders(stack.Hub,
		maintenance.WithAttendanceSchedule(cfg.DevServer.ReminderSchedule),
		maintenance.WithInterviews(reminderInterviews(cfg.DevServer.Interviews)),
	)
	if err := stack.Reminders.Start(); err != nil {
		return nil, fmt.Errorf("start reminder jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.JWT, stack.Hub, cfg, handlers.WithReplyDelay(replyDelay))
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	log.Info("dev server ready",
		zap.Int("interviews", len(cfg.DevServer.Interviews)),
		zap.String("reminder_schedule", cfg.DevServer.ReminderSchedule),
	)

	success = true
	return stack, nil
}

// Shutdown stops background jobs and drops realtime clients.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Reminders != nil {
		<-s.Reminders.Stop().Done()
	}

	if s.Hub != nil {
		s.Hub.CloseAll()
	}

	log.Debug("runtime stopped")
}

func reminderInterviews(windows []app.InterviewWindow) []maintenance.Interview {
	out := make([]maintenance.Interview, 0, len(windows))
	for _, w := range windows {
		out = append(out, maintenance.Interview{SubjectID: w.SubjectID, StartsAt: w.StartsAt})
	}
	return out
}
