package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hrdash/internal/middleware"
	"github.com/charlesng35/hrdash/pkg/response"
)

var interviewStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newChatHandler(now time.Time) *InterviewChatHandler {
	return NewInterviewChatHandler([]InterviewWindow{
		{SubjectID: "app-42", StartsAt: interviewStart, EndsAt: interviewStart.Add(time.Hour)},
		{SubjectID: " ", StartsAt: interviewStart},
	}, WithChatClock(func() time.Time { return now }))
}

func postChat(t *testing.T, h *InterviewChatHandler, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/interviews/chat", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		c.Set(middleware.CtxUserIDKey, userID)
	}
	h.Chat(c)
	return recorder
}

func decodeReply(t *testing.T, recorder *httptest.ResponseRecorder) interviewChatReply {
	t.Helper()
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	var reply interviewChatReply
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	return reply
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) *response.ErrorInfo {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.NotNil(t, payload.Error)
	return payload.Error
}

func TestInterviewChatConversationLifecycle(t *testing.T) {
	h := newChatHandler(interviewStart.Add(10 * time.Minute))

	first := decodeReply(t, postChat(t, h, "user-1", gin.H{"message": "Hello", "subjectId": "app-42"}))
	require.NotEmpty(t, first.ConversationID)
	require.Equal(t, interviewerPrompts[0], first.Response)

	second := decodeReply(t, postChat(t, h, "user-1", gin.H{
		"message":        "I led the payroll migration",
		"conversationId": first.ConversationID,
		"subjectId":      "app-42",
	}))
	require.Equal(t, first.ConversationID, second.ConversationID)
	require.Equal(t, interviewerPrompts[1], second.Response)
}

func TestInterviewChatRejectsForeignConversation(t *testing.T) {
	h := newChatHandler(interviewStart.Add(10 * time.Minute))

	first := decodeReply(t, postChat(t, h, "user-1", gin.H{"message": "Hello", "subjectId": "app-42"}))

	recorder := postChat(t, h, "user-2", gin.H{
		"message":        "Hi",
		"conversationId": first.ConversationID,
		"subjectId":      "app-42",
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "NOT_FOUND", decodeError(t, recorder).Code)
}

func TestInterviewChatAccessWindow(t *testing.T) {
	cases := []struct {
		name    string
		now     time.Time
		subject string
		reason  string
	}{
		{name: "before start", now: interviewStart.Add(-time.Minute), subject: "app-42", reason: ReasonNotStarted},
		{name: "after end", now: interviewStart.Add(time.Hour), subject: "app-42", reason: ReasonWindowClosed},
		{name: "unknown subject", now: interviewStart, subject: "app-7", reason: ReasonNoInterview},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newChatHandler(tc.now)
			recorder := postChat(t, h, "user-1", gin.H{"message": "Hello", "subjectId": tc.subject})

			require.Equal(t, http.StatusForbidden, recorder.Code)
			info := decodeError(t, recorder)
			require.Equal(t, "INTERVIEW_ACCESS_DENIED", info.Code)
			require.Equal(t, tc.reason, info.Message)
		})
	}
}

func TestInterviewChatOpenEndedWindow(t *testing.T) {
	h := NewInterviewChatHandler([]InterviewWindow{{SubjectID: "app-1", StartsAt: interviewStart}},
		WithChatClock(func() time.Time { return interviewStart.AddDate(1, 0, 0) }))

	decodeReply(t, postChat(t, h, "user-1", gin.H{"message": "Hello", "subjectId": "app-1"}))
}

func TestInterviewChatValidation(t *testing.T) {
	h := newChatHandler(interviewStart)

	recorder := postChat(t, h, "user-1", gin.H{"message": "   ", "subjectId": "app-42"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, decodeError(t, recorder).Message, "message is required")

	recorder = postChat(t, h, "user-1", gin.H{"message": "Hello"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, decodeError(t, recorder).Message, "subject id is required")

	recorder = postChat(t, h, "user-1", gin.H{"message": strings.Repeat("a", 4001), "subjectId": "app-42"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, decodeError(t, recorder).Message, "at most 4000")

	recorder = postChat(t, h, "", gin.H{"message": "Hello", "subjectId": "app-42"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestInterviewChatReplyDelayHonoursCancellation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewInterviewChatHandler([]InterviewWindow{{SubjectID: "app-42", StartsAt: interviewStart}},
		WithChatClock(func() time.Time { return interviewStart }),
		WithReplyDelay(time.Hour))

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	req := httptest.NewRequest(http.MethodPost, "/api/interviews/chat", strings.NewReader(`{"message":"Hi","subjectId":"app-42"}`))
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	c.Request = req.WithContext(ctx)
	c.Set(middleware.CtxUserIDKey, "user-1")

	done := make(chan struct{})
	go func() {
		h.Chat(c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler ignored cancelled request")
	}
	require.Zero(t, recorder.Body.Len())
}

func TestPrettifyFieldName(t *testing.T) {
	require.Equal(t, "subject id", prettifyFieldName("subjectId"))
	require.Equal(t, "user id", prettifyFieldName("user_id"))
	require.Equal(t, "field", prettifyFieldName(""))
}
