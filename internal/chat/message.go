package chat

import "time"

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks a user turn from local append to server acknowledgement.
// Assistant messages are always StatusSent.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Message is one transcript entry. Role, Content and Timestamp never change
// after the append; only Status moves as the turn resolves.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// AccessStatus is the interview gate as last reported by the backend.
type AccessStatus int

const (
	AccessUnknown AccessStatus = iota
	AccessGranted
	AccessDenied
)

func (s AccessStatus) String() string {
	switch s {
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Access is the gate state plus the backend's reason when denied.
type Access struct {
	Status AccessStatus
	Reason string
}

// Denied reports whether the gate is closed.
func (a Access) Denied() bool { return a.Status == AccessDenied }

func (a Access) String() string {
	if a.Status == AccessDenied {
		return "denied(" + a.Reason + ")"
	}
	return a.Status.String()
}
