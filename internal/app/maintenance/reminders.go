package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/events"
	"github.com/charlesng35/hrdash/pkg/logger"
)

const (
	defaultAttendanceSpec = "@daily"
	defaultInterviewSpec  = "@every 15m"
	defaultInterviewLead  = 24 * time.Hour
)

// Broadcaster pushes a frame to every connected client.
type Broadcaster interface {
	Broadcast(events.Envelope)
}

// Interview is an upcoming interview to announce ahead of time.
type Interview struct {
	SubjectID string
	StartsAt  time.Time
}

// Reminders schedules the dev server's recurring notification events: a daily
// attendance reminder and announcements for interviews about to start.
type Reminders struct {
	hub        Broadcaster
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger
	interviews []Interview
	lead       time.Duration

	attendanceSchedule string
	interviewSchedule  string

	mu        sync.Mutex
	announced map[string]struct{}
}

// Option customises Reminders.
type Option func(*Reminders)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reminders) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock used for reminder timestamps and interview lookahead.
func WithNow(now func() time.Time) Option {
	return func(r *Reminders) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAttendanceSchedule overrides the cron expression for attendance reminders.
func WithAttendanceSchedule(spec string) Option {
	return func(r *Reminders) {
		if spec != "" {
			r.attendanceSchedule = spec
		}
	}
}

// WithInterviewSchedule overrides how often upcoming interviews are checked.
func WithInterviewSchedule(spec string) Option {
	return func(r *Reminders) {
		if spec != "" {
			r.interviewSchedule = spec
		}
	}
}

// WithInterviews sets the interviews to announce.
func WithInterviews(interviews []Interview) Option {
	return func(r *Reminders) {
		r.interviews = append([]Interview(nil), interviews...)
	}
}

// WithInterviewLead sets how far ahead an interview is announced.
func WithInterviewLead(d time.Duration) Option {
	return func(r *Reminders) {
		if d > 0 {
			r.lead = d
		}
	}
}

// NewReminders constructs Reminders publishing through hub. A nil hub disables every job.
func NewReminders(hub Broadcaster, opts ...Option) *Reminders {
	r := &Reminders{
		hub:                hub,
		now:                time.Now,
		lead:               defaultInterviewLead,
		attendanceSchedule: defaultAttendanceSpec,
		interviewSchedule:  defaultInterviewSpec,
		log:                logger.WithModule("maintenance"),
		announced:          make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	sort.SliceStable(r.interviews, func(i, j int) bool {
		return r.interviews[i].StartsAt.Before(r.interviews[j].StartsAt)
	})

	return r
}

// Start registers the reminder jobs with the cron scheduler and launches it.
func (r *Reminders) Start() error {
	if r.hub == nil {
		return nil
	}

	if _, err := r.cron.AddFunc(r.attendanceSchedule, func() {
		if err := r.SendAttendance(context.Background()); err != nil {
			r.log.Warn("attendance reminder failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule attendance reminder: %w", err)
	}

	if len(r.interviews) > 0 {
		if _, err := r.cron.AddFunc(r.interviewSchedule, func() {
			if _, err := r.AnnounceInterviews(context.Background()); err != nil {
				r.log.Warn("interview announcement failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule interview announcements: %w", err)
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (r *Reminders) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every reminder job sequentially. Primarily used in tests.
func (r *Reminders) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if err := r.SendAttendance(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := r.AnnounceInterviews(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SendAttendance broadcasts today's attendance reminder.
func (r *Reminders) SendAttendance(ctx context.Context) error {
	if r.hub == nil {
		return errors.New("reminders: hub is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := r.now()
	date := now.Format(time.DateOnly)
	if err := r.broadcast(events.Event{
		ID:        uuid.NewString(),
		Type:      events.TypeAttendanceReminder,
		Message:   fmt.Sprintf("Remember to record attendance for %s", date),
		Timestamp: now,
		Payload:   events.AttendanceReminder{Date: date},
	}); err != nil {
		return fmt.Errorf("reminders: attendance: %w", err)
	}

	r.log.Debug("attendance reminder sent", zap.String("date", date))
	return nil
}

// AnnounceInterviews broadcasts interview_scheduled for each interview starting
// within the lead time that has not been announced yet. It returns how many
// were sent.
func (r *Reminders) AnnounceInterviews(ctx context.Context) (int, error) {
	if r.hub == nil {
		return 0, errors.New("reminders: hub is required")
	}

	now := r.now()
	horizon := now.Add(r.lead)

	var (
		errs error
		sent int
	)
	for _, interview := range r.interviews {
		if err := ctx.Err(); err != nil {
			return sent, multierr.Append(errs, err)
		}
		if !interview.StartsAt.After(now) || interview.StartsAt.After(horizon) {
			continue
		}

		key := interview.SubjectID + "@" + interview.StartsAt.UTC().Format(time.RFC3339)
		if !r.markAnnounced(key) {
			continue
		}

		err := r.broadcast(events.Event{
			ID:        uuid.NewString(),
			Type:      events.TypeInterviewScheduled,
			Message:   fmt.Sprintf("Interview for application %s starts at %s", interview.SubjectID, interview.StartsAt.Format(time.Kitchen)),
			Timestamp: now,
			Payload:   events.InterviewScheduled{ApplicationID: interview.SubjectID, ScheduledAt: interview.StartsAt},
		})
		if err != nil {
			r.unmarkAnnounced(key)
			errs = multierr.Append(errs, fmt.Errorf("reminders: interview %s: %w", interview.SubjectID, err))
			continue
		}
		sent++
	}

	return sent, errs
}

func (r *Reminders) broadcast(ev events.Event) error {
	frame, err := events.Encode(ev)
	if err != nil {
		return err
	}
	r.hub.Broadcast(frame)
	return nil
}

func (r *Reminders) markAnnounced(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.announced[key]; ok {
		return false
	}
	r.announced[key] = struct{}{}
	return true
}

func (r *Reminders) unmarkAnnounced(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.announced, key)
}
