package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/voice"
	apperrors "github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/logger"
	"github.com/charlesng35/hrdash/pkg/metrics"
	"github.com/charlesng35/hrdash/pkg/validator"
)

// DefaultMaxMessageLength bounds a single user turn, in characters.
const DefaultMaxMessageLength = 4000

// ErrNothingToRetry is returned by RetryLast when the latest user turn was not a failure.
var ErrNothingToRetry = errors.New("chat: no unsent message to retry")

// Options configures a Session.
type Options struct {
	SubjectID        string
	Transport        Transport
	Input            voice.Input
	Output           voice.Output
	MaxMessageLength int
	Logger           *zap.Logger
	Clock            func() time.Time
}

// Session is one interview chat exchange. At most one turn is outstanding at a
// time; a second send while one is pending fails with ErrTurnInFlight.
type Session struct {
	subjectID string
	transport Transport
	input     voice.Input
	output    voice.Output
	maxLen    int
	log       *zap.Logger
	now       func() time.Time

	mu             sync.Mutex
	transcript     []Message
	conversationID string
	access         Access
	inFlight       bool
	cancel         context.CancelFunc
	generation     uint64
	closed         bool
}

type turnInput struct {
	Message string `json:"message" validate:"required,notblank"`
}

// NewSession opens a chat session about subjectID.
func NewSession(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	subjectID := strings.TrimSpace(opts.SubjectID)
	if subjectID == "" {
		return nil, errors.New("chat: subject id is required")
	}

	maxLen := opts.MaxMessageLength
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock
	}

	return &Session{
		subjectID: subjectID,
		transport: opts.Transport,
		input:     opts.Input,
		output:    opts.Output,
		maxLen:    maxLen,
		log:       logger.OrModule(opts.Logger, "chat").With(zap.String("subject_id", subjectID)),
		now:       now,
	}, nil
}

// AppendLocalMessage records a user turn in the transcript as pending without
// sending it. RetryLast sends it later. While a reply is outstanding it fails
// with ErrTurnInFlight so the reply stays next to its prompt.
func (s *Session) AppendLocalMessage(content string) (Message, error) {
	content, err := s.validate(content)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gateLocked(); err != nil {
		return Message{}, err
	}
	if s.inFlight {
		return Message{}, apperrors.ErrTurnInFlight
	}
	return s.appendLocked(RoleUser, content, StatusPending), nil
}

// SendMessage appends content as a pending user turn, sends it, and on success
// appends and returns the assistant reply. The user turn stays in the
// transcript whatever the outcome; its Status records the result.
//
// Errors: *AccessDeniedError (matches ErrAccessDenied) when the backend
// refuses the turn or has refused an earlier one; *RequestError (matches
// ErrChatUnavailable) for transient failures; ErrTurnInFlight; ErrSessionClosed.
func (s *Session) SendMessage(ctx context.Context, content string) (Message, error) {
	content, err := s.validate(content)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	if err := s.gateLocked(); err != nil {
		s.mu.Unlock()
		s.reject(err)
		return Message{}, err
	}
	if s.inFlight {
		s.mu.Unlock()
		s.reject(apperrors.ErrTurnInFlight)
		return Message{}, apperrors.ErrTurnInFlight
	}
	msg := s.appendLocked(RoleUser, content, StatusPending)
	return s.send(ctx, msg.ID)
}

// RetryLast resends the latest user turn if it failed or was never sent.
func (s *Session) RetryLast(ctx context.Context) (Message, error) {
	s.mu.Lock()
	if err := s.gateLocked(); err != nil {
		s.mu.Unlock()
		s.reject(err)
		return Message{}, err
	}
	if s.inFlight {
		s.mu.Unlock()
		s.reject(apperrors.ErrTurnInFlight)
		return Message{}, apperrors.ErrTurnInFlight
	}

	for i := len(s.transcript) - 1; i >= 0; i-- {
		msg := s.transcript[i]
		if msg.Role != RoleUser {
			continue
		}
		if msg.Status != StatusFailed && msg.Status != StatusPending {
			break
		}
		s.transcript[i].Status = StatusPending
		return s.send(ctx, msg.ID)
	}

	s.mu.Unlock()
	return Message{}, ErrNothingToRetry
}

// SendVoiceMessage listens for one utterance and sends the transcript as a turn.
func (s *Session) SendVoiceMessage(ctx context.Context) (Message, error) {
	if !voice.InputAvailable(s.input) {
		return Message{}, voice.ErrUnsupported
	}

	s.mu.Lock()
	err := s.gateLocked()
	s.mu.Unlock()
	if err != nil {
		return Message{}, err
	}

	text, err := s.input.Listen(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("chat: voice input: %w", err)
	}
	return s.SendMessage(ctx, text)
}

// send dispatches the pending user turn with id. It must be called with s.mu
// held and returns with it released.
func (s *Session) send(ctx context.Context, id string) (Message, error) {
	req := Request{
		Message:        s.contentLocked(id),
		ConversationID: s.conversationID,
		SubjectID:      s.subjectID,
	}
	reqCtx, cancel := context.WithCancel(ctx)
	s.inFlight = true
	s.cancel = cancel
	generation := s.generation
	s.mu.Unlock()

	reply, err := s.transport.Send(reqCtx, req)
	cancel()

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		metrics.ChatTurns.WithLabelValues("discarded").Inc()
		s.log.Debug("discarding chat reply for closed session")
		return Message{}, apperrors.ErrSessionClosed
	}
	s.inFlight = false
	s.cancel = nil

	if err != nil {
		var denied *AccessDeniedError
		if errors.As(err, &denied) {
			s.access = Access{Status: AccessDenied, Reason: denied.Reason}
			s.setStatusLocked(id, StatusRejected)
			s.mu.Unlock()

			metrics.ChatTurns.WithLabelValues("denied").Inc()
			s.log.Info("interview chat access denied", zap.String("reason", denied.Reason))
			return Message{}, denied
		}

		s.setStatusLocked(id, StatusFailed)
		s.mu.Unlock()

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Err: err}
		}
		metrics.ChatTurns.WithLabelValues("failed").Inc()
		s.log.Warn("chat turn failed", zap.Error(err))
		return Message{}, reqErr
	}

	s.setStatusLocked(id, StatusSent)
	if s.conversationID == "" && reply.ConversationID != "" {
		s.conversationID = reply.ConversationID
		s.log.Debug("conversation started", zap.String("conversation_id", reply.ConversationID))
	}
	s.access = Access{Status: AccessGranted}
	answer := s.appendLocked(RoleAssistant, reply.Response, StatusSent)
	s.mu.Unlock()

	metrics.ChatTurns.WithLabelValues("ok").Inc()
	s.speak(ctx, answer.Content)
	return answer, nil
}

func (s *Session) speak(ctx context.Context, text string) {
	if !voice.OutputAvailable(s.output) || strings.TrimSpace(text) == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("speech output panicked", zap.Any("panic", r))
		}
	}()
	if err := s.output.Speak(context.WithoutCancel(ctx), text); err != nil {
		s.log.Debug("speech output failed", zap.Error(err))
	}
}

// Close abandons any outstanding turn. A reply that arrives afterwards is
// discarded. Closing twice is harmless.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.inFlight = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Access returns the interview gate state.
func (s *Session) Access() Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

// ConversationID returns the server-assigned conversation, or "" before the first reply.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) SubjectID() string { return s.subjectID }

// Pending reports whether a turn is outstanding.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// InputEnabled reports whether the input surface should accept turns. It is
// false once access is denied or the session is closed; the transcript stays readable.
func (s *Session) InputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateLocked() == nil
}

func (s *Session) VoiceInputSupported() bool  { return voice.InputAvailable(s.input) }
func (s *Session) VoiceOutputSupported() bool { return voice.OutputAvailable(s.output) }

func (s *Session) validate(content string) (string, error) {
	content = strings.TrimSpace(content)
	if err := validator.ValidateStruct(turnInput{Message: content}); err != nil {
		return "", apperrors.NewBadRequest("message must not be empty").WithInternal(err)
	}
	if utf8.RuneCountInString(content) > s.maxLen {
		return "", apperrors.NewBadRequest(fmt.Sprintf("message exceeds %d characters", s.maxLen))
	}
	return content, nil
}

func (s *Session) gateLocked() error {
	if s.closed {
		return apperrors.ErrSessionClosed
	}
	if s.access.Denied() {
		return &AccessDeniedError{Reason: s.access.Reason}
	}
	return nil
}

func (s *Session) reject(err error) {
	metrics.ChatTurns.WithLabelValues("rejected").Inc()
	s.log.Debug("chat turn rejected", zap.Error(err))
}

func (s *Session) appendLocked(role Role, content string, status Status) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		Status:    status,
	}
	s.transcript = append(s.transcript, msg)
	return msg
}

func (s *Session) contentLocked(id string) string {
	for _, msg := range s.transcript {
		if msg.ID == id {
			return msg.Content
		}
	}
	return ""
}

func (s *Session) setStatusLocked(id string, status Status) {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].ID == id {
			s.transcript[i].Status = status
			return
		}
	}
}
