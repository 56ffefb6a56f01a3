package events

import "strings"

// StreamNotifications is the realtime stream carrying HR notification events.
const StreamNotifications = "notifications"

// Type names a server-pushed event. Unknown names are kept verbatim so callers
// can still present them.
type Type string

// Event types emitted by the HR backend.
const (
	TypeApplicationUpdate  Type = "application_update"
	TypeNewApplication     Type = "new_application"
	TypeNewJob             Type = "new_job"
	TypeInterviewScheduled Type = "interview_scheduled"
	TypePayrollProcessed   Type = "payroll_processed"
	TypePerformanceReview  Type = "performance_review"
	TypeAttendanceReminder Type = "attendance_reminder"
)

var knownTypes = []Type{
	TypeApplicationUpdate,
	TypeNewApplication,
	TypeNewJob,
	TypeInterviewScheduled,
	TypePayrollProcessed,
	TypePerformanceReview,
	TypeAttendanceReminder,
}

// KnownTypes returns every event type the client understands, in a stable order.
func KnownTypes() []Type {
	out := make([]Type, len(knownTypes))
	copy(out, knownTypes)
	return out
}

// ParseType normalises a wire name into a Type.
func ParseType(name string) Type {
	return Type(strings.ToLower(strings.TrimSpace(name)))
}

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	for _, known := range knownTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Severity grades how prominently an alert should be shown.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// Presentation is the display metadata for an event type.
type Presentation struct {
	Title    string
	Severity Severity
}

var presentations = map[Type]Presentation{
	TypeApplicationUpdate:  {Title: "Application updated", Severity: SeverityInfo},
	TypeNewApplication:     {Title: "New application", Severity: SeveritySuccess},
	TypeNewJob:             {Title: "New job posted", Severity: SeverityInfo},
	TypeInterviewScheduled: {Title: "Interview scheduled", Severity: SeveritySuccess},
	TypePayrollProcessed:   {Title: "Payroll processed", Severity: SeveritySuccess},
	TypePerformanceReview:  {Title: "Performance review", Severity: SeverityInfo},
	TypeAttendanceReminder: {Title: "Attendance reminder", Severity: SeverityWarning},
}

// GenericPresentation is used for event types the client does not recognise.
var GenericPresentation = Presentation{Title: "Notification", Severity: SeverityInfo}

// PresentationFor returns display metadata for t, falling back to GenericPresentation.
func PresentationFor(t Type) Presentation {
	if p, ok := presentations[t]; ok {
		return p
	}
	return GenericPresentation
}

// Handler receives decoded events from a subscription.
type Handler func(Event)
