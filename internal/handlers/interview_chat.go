package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/logger"
	"github.com/charlesng35/hrdash/pkg/response"
)

// Denial reasons reported to the client verbatim.
const (
	ReasonNoInterview  = "no interview scheduled for this applicant"
	ReasonNotStarted   = "outside interview window: interview has not started"
	ReasonWindowClosed = "outside interview window: interview has ended"
)

var interviewerPrompts = []string{
	"Thanks for joining. Could you walk me through your most recent role?",
	"What was the hardest problem you solved there, and how did you approach it?",
	"How do you usually work with teammates when priorities conflict?",
	"Why are you interested in this position?",
	"Do you have any questions for us?",
}

// InterviewWindow is the period during which chat about SubjectID is allowed.
type InterviewWindow struct {
	SubjectID string
	StartsAt  time.Time
	EndsAt    time.Time
}

type interviewChatRequest struct {
	Message        string `json:"message" validate:"required,notblank,max=4000"`
	ConversationID string `json:"conversationId"`
	SubjectID      string `json:"subjectId" validate:"required,notblank"`
}

type interviewChatReply struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

type conversation struct {
	userID    string
	subjectID string
	turns     int
}

// InterviewChatOption customises an InterviewChatHandler.
type InterviewChatOption func(*InterviewChatHandler)

// WithChatClock overrides the clock used for window checks.
func WithChatClock(now func() time.Time) InterviewChatOption {
	return func(h *InterviewChatHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReplyDelay holds each reply for d, which makes in-flight behaviour observable.
func WithReplyDelay(d time.Duration) InterviewChatOption {
	return func(h *InterviewChatHandler) {
		if d > 0 {
			h.delay = d
		}
	}
}

// InterviewChatHandler answers interview chat turns while the subject's
// interview window is open.
type InterviewChatHandler struct {
	windows map[string][]InterviewWindow
	now     func() time.Time
	delay   time.Duration
	log     *zap.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewInterviewChatHandler constructs the handler for the configured windows.
func NewInterviewChatHandler(windows []InterviewWindow, opts ...InterviewChatOption) *InterviewChatHandler {
	h := &InterviewChatHandler{
		windows:       make(map[string][]InterviewWindow),
		now:           time.Now,
		log:           logger.WithModule("interview-chat"),
		conversations: make(map[string]*conversation),
	}
	for _, w := range windows {
		subject := strings.TrimSpace(w.SubjectID)
		if subject == "" {
			continue
		}
		h.windows[subject] = append(h.windows[subject], w)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Chat handles POST /api/interviews/chat.
func (h *InterviewChatHandler) Chat(c *gin.Context) {
	userID := callerID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req interviewChatRequest
	if !bindAndValidate(c, &req) {
		return
	}
	subjectID := strings.TrimSpace(req.SubjectID)

	if reason, ok := h.admit(subjectID, h.now()); !ok {
		h.log.Info("interview chat denied",
			zap.String("user_id", userID),
			zap.String("subject_id", subjectID),
			zap.String("reason", reason),
		)
		response.Error(c, errors.ErrAccessDenied.WithMessage(reason))
		return
	}

	conversationID, turn, err := h.nextTurn(userID, subjectID, strings.TrimSpace(req.ConversationID))
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.delay > 0 {
		timer := time.NewTimer(h.delay)
		defer timer.Stop()
		select {
		case <-requestContext(c).Done():
			return
		case <-timer.C:
		}
	}

	response.Raw(c, http.StatusOK, interviewChatReply{
		Response:       interviewerPrompts[turn%len(interviewerPrompts)],
		ConversationID: conversationID,
	})
}

// admit reports whether chat about subjectID is allowed at now, and the reason when it is not.
func (h *InterviewChatHandler) admit(subjectID string, now time.Time) (string, bool) {
	windows := h.windows[subjectID]
	if len(windows) == 0 {
		return ReasonNoInterview, false
	}

	upcoming := false
	for _, w := range windows {
		if now.Before(w.StartsAt) {
			upcoming = true
			continue
		}
		if w.EndsAt.IsZero() || now.Before(w.EndsAt) {
			return "", true
		}
	}
	if upcoming {
		return ReasonNotStarted, false
	}
	return ReasonWindowClosed, false
}

func (h *InterviewChatHandler) nextTurn(userID, subjectID, conversationID string) (string, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conversationID == "" {
		conversationID = uuid.NewString()
		h.conversations[conversationID] = &conversation{userID: userID, subjectID: subjectID, turns: 1}
		return conversationID, 0, nil
	}

	conv, ok := h.conversations[conversationID]
	if !ok || conv.userID != userID || conv.subjectID != subjectID {
		return "", 0, errors.ErrNotFound.WithMessage(fmt.Sprintf("conversation %s not found", conversationID))
	}
	turn := conv.turns
	conv.turns++
	return conversationID, turn, nil
}
