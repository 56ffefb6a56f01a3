package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Envelope is the frame pushed by the server on the realtime connection.
type Envelope struct {
	Stream string          `json:"stream"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded server notification. Payload holds the type-specific
// variant; unrecognised types decode to Generic.
type Event struct {
	ID        string
	Type      Type
	Message   string
	Timestamp time.Time
	Payload   Payload
}

// Payload is implemented only by the variants declared in this package.
type Payload interface {
	EventType() Type
	sealed()
}

type ApplicationUpdate struct {
	ApplicationID string `json:"applicationId,omitempty"`
	Status        string `json:"status,omitempty"`
}

type NewApplication struct {
	ApplicationID string `json:"applicationId,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	CandidateName string `json:"candidateName,omitempty"`
}

type NewJob struct {
	JobID string `json:"jobId,omitempty"`
	Title string `json:"title,omitempty"`
}

type InterviewScheduled struct {
	ApplicationID string    `json:"applicationId,omitempty"`
	ScheduledAt   time.Time `json:"scheduledAt,omitempty"`
}

type PayrollProcessed struct {
	PayrollID string `json:"payrollId,omitempty"`
	Period    string `json:"period,omitempty"`
}

type PerformanceReview struct {
	ReviewID   string `json:"reviewId,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
}

type AttendanceReminder struct {
	Date string `json:"date,omitempty"`
}

// Generic carries an event whose type the client does not know.
type Generic struct {
	Name   Type           `json:"-"`
	Fields map[string]any `json:"-"`
}

func (ApplicationUpdate) EventType() Type  { return TypeApplicationUpdate }
func (NewApplication) EventType() Type     { return TypeNewApplication }
func (NewJob) EventType() Type             { return TypeNewJob }
func (InterviewScheduled) EventType() Type { return TypeInterviewScheduled }
func (PayrollProcessed) EventType() Type   { return TypePayrollProcessed }
func (PerformanceReview) EventType() Type  { return TypePerformanceReview }
func (AttendanceReminder) EventType() Type { return TypeAttendanceReminder }
func (g Generic) EventType() Type          { return g.Name }

func (ApplicationUpdate) sealed()  {}
func (NewApplication) sealed()     {}
func (NewJob) sealed()             {}
func (InterviewScheduled) sealed() {}
func (PayrollProcessed) sealed()   {}
func (PerformanceReview) sealed()  {}
func (AttendanceReminder) sealed() {}
func (Generic) sealed()            {}

// ErrMissingType is returned when a frame names no event type at all.
var ErrMissingType = errors.New("events: frame has no event type")

// ErrMalformedPayload marks a frame whose header decoded but whose
// type-specific fields did not. The Event returned alongside it is usable and
// carries the raw fields as a Generic payload.
var ErrMalformedPayload = errors.New("events: malformed payload")

type header struct {
	ID        json.RawMessage `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode parses a raw frame. The type comes from the envelope's event name,
// falling back to data.type. A missing timestamp is replaced by received.
func Decode(raw []byte, received time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	return DecodeEnvelope(env, received)
}

// DecodeEnvelope converts an already parsed envelope into an Event. Only the
// header (id, type, message, timestamp) is authoritative: when the remaining
// fields do not fit the type's payload the event is still returned, with an
// error matching ErrMalformedPayload.
func DecodeEnvelope(env Envelope, received time.Time) (Event, error) {
	var hdr header
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &hdr); err != nil {
			return Event{}, fmt.Errorf("events: decode data: %w", err)
		}
	}

	eventType := ParseType(env.Event)
	if eventType == "" {
		eventType = ParseType(hdr.Type)
	}
	if eventType == "" {
		return Event{}, ErrMissingType
	}

	ts, ok := parseTimestamp(hdr.Timestamp)
	if !ok {
		ts = received
	}

	payload, err := decodePayload(eventType, env.Data)
	if err != nil && !errors.Is(err, ErrMalformedPayload) {
		return Event{}, err
	}

	return Event{
		ID:        parseID(hdr.ID),
		Type:      eventType,
		Message:   strings.TrimSpace(hdr.Message),
		Timestamp: ts,
		Payload:   payload,
	}, err
}

func decodePayload(t Type, data json.RawMessage) (Payload, error) {
	var target Payload
	switch t {
	case TypeApplicationUpdate:
		target = &ApplicationUpdate{}
	case TypeNewApplication:
		target = &NewApplication{}
	case TypeNewJob:
		target = &NewJob{}
	case TypeInterviewScheduled:
		target = &InterviewScheduled{}
	case TypePayrollProcessed:
		target = &PayrollProcessed{}
	case TypePerformanceReview:
		target = &PerformanceReview{}
	case TypeAttendanceReminder:
		target = &AttendanceReminder{}
	default:
		return decodeGeneric(t, data)
	}

	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, target); err != nil {
			generic, gerr := decodeGeneric(t, data)
			if gerr != nil {
				return nil, gerr
			}
			return generic, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
		}
	}

	switch p := target.(type) {
	case *ApplicationUpdate:
		return *p, nil
	case *NewApplication:
		return *p, nil
	case *NewJob:
		return *p, nil
	case *InterviewScheduled:
		return *p, nil
	case *PayrollProcessed:
		return *p, nil
	case *PerformanceReview:
		return *p, nil
	case *AttendanceReminder:
		return *p, nil
	}
	return target, nil
}

func decodeGeneric(t Type, data json.RawMessage) (Payload, error) {
	fields := map[string]any{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("events: decode %s fields: %w", t, err)
		}
	}
	return Generic{Name: t, Fields: fields}, nil
}

// Encode renders ev as a frame on the notifications stream.
func Encode(ev Event) (Envelope, error) {
	if ev.Type == "" {
		return Envelope{}, ErrMissingType
	}

	fields := map[string]any{}
	switch p := ev.Payload.(type) {
	case nil:
	case Generic:
		for k, v := range p.Fields {
			fields[k] = v
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("events: encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Envelope{}, fmt.Errorf("events: encode payload: %w", err)
		}
	}

	fields["type"] = string(ev.Type)
	fields["message"] = ev.Message
	if ev.ID != "" {
		fields["id"] = ev.ID
	}
	if !ev.Timestamp.IsZero() {
		fields["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode data: %w", err)
	}

	return Envelope{
		Stream: StreamNotifications,
		Event:  string(ev.Type),
		Data:   data,
	}, nil
}

func parseID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseTimestamp accepts RFC 3339 strings and unix epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
