package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hrdash/internal/voice"
	apperrors "github.com/charlesng35/hrdash/pkg/errors"
)

type scriptedTransport struct {
	mu       sync.Mutex
	requests []Request
	replies  []func(Request) (Reply, error)
}

func (t *scriptedTransport) then(fn func(Request) (Reply, error)) *scriptedTransport {
	t.replies = append(t.replies, fn)
	return t
}

func (t *scriptedTransport) reply(response, conversationID string) *scriptedTransport {
	return t.then(func(Request) (Reply, error) {
		return Reply{Response: response, ConversationID: conversationID}, nil
	})
}

func (t *scriptedTransport) fail(err error) *scriptedTransport {
	return t.then(func(Request) (Reply, error) { return Reply{}, err })
}

func (t *scriptedTransport) Send(_ context.Context, req Request) (Reply, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	if len(t.replies) == 0 {
		t.mu.Unlock()
		return Reply{}, errors.New("unexpected request")
	}
	next := t.replies[0]
	t.replies = t.replies[1:]
	t.mu.Unlock()
	return next(req)
}

func (t *scriptedTransport) sent() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.requests...)
}

func newSession(t *testing.T, transport Transport, opts ...func(*Options)) *Session {
	t.Helper()
	o := Options{SubjectID: "app-17", Transport: transport}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := NewSession(o)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewSessionValidatesOptions(t *testing.T) {
	_, err := NewSession(Options{SubjectID: "app-1"})
	require.EqualError(t, err, "chat: transport is required")

	_, err = NewSession(Options{Transport: &scriptedTransport{}, SubjectID: "  "})
	require.EqualError(t, err, "chat: subject id is required")
}

func TestConversationIDIsOmittedThenSticky(t *testing.T) {
	transport := (&scriptedTransport{}).
		reply("Hi", "c1").
		reply("Tell me more", "").
		reply("Thanks", "c2")
	s := newSession(t, transport)

	ctx := context.Background()
	answer, err := s.SendMessage(ctx, "Hello")
	require.NoError(t, err)
	require.Equal(t, "Hi", answer.Content)
	require.Equal(t, RoleAssistant, answer.Role)
	require.Equal(t, "c1", s.ConversationID())

	_, err = s.SendMessage(ctx, "I have five years of Go")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "Bye")
	require.NoError(t, err)

	reqs := transport.sent()
	require.Len(t, reqs, 3)
	require.Equal(t, Request{Message: "Hello", SubjectID: "app-17"}, reqs[0])
	require.Equal(t, "c1", reqs[1].ConversationID)
	require.Equal(t, "c1", reqs[2].ConversationID)
	require.Equal(t, "c1", s.ConversationID())

	require.Equal(t, Access{Status: AccessGranted}, s.Access())

	transcript := s.Transcript()
	require.Len(t, transcript, 6)
	for i, msg := range transcript {
		if i%2 == 0 {
			require.Equal(t, RoleUser, msg.Role)
		} else {
			require.Equal(t, RoleAssistant, msg.Role)
		}
		require.Equal(t, StatusSent, msg.Status)
	}
}

func TestAccessDeniedStopsFurtherTurns(t *testing.T) {
	transport := (&scriptedTransport{}).
		reply("Welcome", "c1").
		fail(&AccessDeniedError{Reason: "outside interview window"})
	s := newSession(t, transport)

	ctx := context.Background()
	_, err := s.SendMessage(ctx, "Hello")
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, "Are you there?")
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "outside interview window", denied.Reason)
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)
	require.NotErrorIs(t, err, apperrors.ErrChatUnavailable)

	require.Equal(t, Access{Status: AccessDenied, Reason: "outside interview window"}, s.Access())
	require.Equal(t, "denied(outside interview window)", s.Access().String())
	require.False(t, s.InputEnabled())

	transcript := s.Transcript()
	require.Len(t, transcript, 3)
	require.Equal(t, "Hello", transcript[0].Content)
	require.Equal(t, "Welcome", transcript[1].Content)
	require.Equal(t, "Are you there?", transcript[2].Content)
	require.Equal(t, StatusRejected, transcript[2].Status)

	_, err = s.SendMessage(ctx, "Hello again")
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)
	require.Len(t, transport.sent(), 2)
	require.Len(t, s.Transcript(), 3)

	_, err = s.RetryLast(ctx)
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)
	require.Len(t, transport.sent(), 2)
}

func TestTransientFailureKeepsMessageAndAllowsRetry(t *testing.T) {
	transport := (&scriptedTransport{}).
		fail(errors.New("connection reset")).
		reply("Got it", "c9")
	s := newSession(t, transport)

	ctx := context.Background()
	_, err := s.SendMessage(ctx, "My availability is Monday")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.True(t, reqErr.Retryable())
	require.ErrorIs(t, err, apperrors.ErrChatUnavailable)
	require.NotErrorIs(t, err, apperrors.ErrAccessDenied)

	require.Equal(t, AccessUnknown, s.Access().Status)
	require.True(t, s.InputEnabled())

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, StatusFailed, transcript[0].Status)

	answer, err := s.RetryLast(ctx)
	require.NoError(t, err)
	require.Equal(t, "Got it", answer.Content)

	transcript = s.Transcript()
	require.Len(t, transcript, 2)
	require.Equal(t, "My availability is Monday", transcript[0].Content)
	require.Equal(t, StatusSent, transcript[0].Status)

	reqs := transport.sent()
	require.Len(t, reqs, 2)
	require.Equal(t, reqs[0].Message, reqs[1].Message)
	require.Empty(t, reqs[1].ConversationID)

	_, err = s.RetryLast(ctx)
	require.ErrorIs(t, err, ErrNothingToRetry)
}

func TestAppendLocalMessageThenRetrySends(t *testing.T) {
	transport := (&scriptedTransport{}).reply("Noted", "c1")
	s := newSession(t, transport)

	local, err := s.AppendLocalMessage("Draft answer")
	require.NoError(t, err)
	require.Equal(t, StatusPending, local.Status)
	require.Empty(t, transport.sent())
	require.Len(t, s.Transcript(), 1)

	_, err = s.RetryLast(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSent, s.Transcript()[0].Status)
	require.Equal(t, "Draft answer", transport.sent()[0].Message)
}

func TestSecondSendWhilePendingIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := (&scriptedTransport{}).
		then(func(Request) (Reply, error) {
			close(started)
			<-release
			return Reply{Response: "answer to A", ConversationID: "c1"}, nil
		}).
		reply("answer to C", "")
	s := newSession(t, transport)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(ctx, "A")
		done <- err
	}()
	<-started
	require.True(t, s.Pending())

	_, err := s.SendMessage(ctx, "B")
	require.ErrorIs(t, err, apperrors.ErrTurnInFlight)
	_, err = s.RetryLast(ctx)
	require.ErrorIs(t, err, apperrors.ErrTurnInFlight)

	close(release)
	require.NoError(t, <-done)

	_, err = s.SendMessage(ctx, "C")
	require.NoError(t, err)

	var contents []string
	for _, msg := range s.Transcript() {
		contents = append(contents, msg.Content)
	}
	require.Equal(t, []string{"A", "answer to A", "C", "answer to C"}, contents)
	require.Len(t, transport.sent(), 2)
}

func TestAppendLocalMessageWhilePendingIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := (&scriptedTransport{}).then(func(Request) (Reply, error) {
		close(started)
		<-release
		return Reply{Response: "reply to A", ConversationID: "c1"}, nil
	})
	s := newSession(t, transport)

	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(context.Background(), "A")
		done <- err
	}()
	<-started

	_, err := s.AppendLocalMessage("B")
	require.ErrorIs(t, err, apperrors.ErrTurnInFlight)

	close(release)
	require.NoError(t, <-done)

	_, err = s.AppendLocalMessage("B")
	require.NoError(t, err)

	transcript := s.Transcript()
	require.Len(t, transcript, 3)
	require.Equal(t, "A", transcript[0].Content)
	require.Equal(t, StatusSent, transcript[0].Status)
	require.Equal(t, RoleAssistant, transcript[1].Role)
	require.Equal(t, "reply to A", transcript[1].Content)
	require.Equal(t, "B", transcript[2].Content)
	require.Equal(t, StatusPending, transcript[2].Status)
}

func TestLateReplyAfterCloseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var cancelled bool
	transport := (&scriptedTransport{}).then(func(Request) (Reply, error) {
		close(started)
		<-release
		return Reply{Response: "too late", ConversationID: "c1"}, nil
	})
	s, err := NewSession(Options{SubjectID: "app-3", Transport: TransportFunc(func(ctx context.Context, req Request) (Reply, error) {
		reply, err := transport.Send(ctx, req)
		cancelled = ctx.Err() != nil
		return reply, err
	})})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(context.Background(), "Hello")
		done <- err
	}()
	<-started

	s.Close()
	close(release)

	require.ErrorIs(t, <-done, apperrors.ErrSessionClosed)
	require.True(t, cancelled)
	require.Empty(t, s.ConversationID())
	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, RoleUser, transcript[0].Role)
	require.False(t, s.InputEnabled())

	_, err = s.SendMessage(context.Background(), "Again")
	require.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestValidationRejectsBlankAndOversizedMessages(t *testing.T) {
	transport := &scriptedTransport{}
	s := newSession(t, transport, func(o *Options) { o.MaxMessageLength = 5 })

	_, err := s.SendMessage(context.Background(), "   ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = s.SendMessage(context.Background(), "too long")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.Empty(t, transport.sent())
	require.Empty(t, s.Transcript())
}

func TestSpeechOnlyAfterSuccessfulReply(t *testing.T) {
	out := voice.NewFakeOutput(errors.New("audio device busy"))
	transport := (&scriptedTransport{}).
		reply("Describe a recent project", "c1").
		fail(errors.New("timeout")).
		fail(&AccessDeniedError{Reason: "interview ended"})
	s := newSession(t, transport, func(o *Options) { o.Output = out })

	ctx := context.Background()
	_, err := s.SendMessage(ctx, "Ready")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, "I built a payroll pipeline")
	require.Error(t, err)
	_, err = s.RetryLast(ctx)
	require.ErrorIs(t, err, apperrors.ErrAccessDenied)

	require.Equal(t, []string{"Describe a recent project"}, out.Spoken())
	// A failing speaker leaves the transcript untouched.
	require.Len(t, s.Transcript(), 3)
	require.Equal(t, StatusSent, s.Transcript()[1].Status)
	require.True(t, s.VoiceOutputSupported())
}

func TestVoiceInputSendsTranscriptAsTyped(t *testing.T) {
	transport := (&scriptedTransport{}).reply("Great", "c1")
	s := newSession(t, transport, func(o *Options) { o.Input = voice.NewFakeInput("  I can start in May ", nil) })

	answer, err := s.SendVoiceMessage(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Great", answer.Content)
	require.Equal(t, "I can start in May", transport.sent()[0].Message)
	require.Equal(t, "I can start in May", s.Transcript()[0].Content)
}

func TestVoiceInputUnavailableOrFailing(t *testing.T) {
	transport := &scriptedTransport{}
	s := newSession(t, transport)
	require.False(t, s.VoiceInputSupported())
	_, err := s.SendVoiceMessage(context.Background())
	require.ErrorIs(t, err, voice.ErrUnsupported)

	s = newSession(t, transport, func(o *Options) { o.Input = voice.NewFakeInput("", voice.ErrNoSpeech) })
	_, err = s.SendVoiceMessage(context.Background())
	require.ErrorIs(t, err, voice.ErrNoSpeech)
	require.Empty(t, s.Transcript())
	require.Empty(t, transport.sent())
}

func TestTranscriptIsACopy(t *testing.T) {
	transport := (&scriptedTransport{}).reply("Hi", "c1")
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newSession(t, transport, func(o *Options) { o.Clock = func() time.Time { return now } })

	_, err := s.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)

	transcript := s.Transcript()
	transcript[0].Content = "edited"
	require.Equal(t, "Hello", s.Transcript()[0].Content)
	require.Equal(t, now, s.Transcript()[0].Timestamp)
}

func TestAccessStatusString(t *testing.T) {
	require.Equal(t, "unknown", Access{}.String())
	require.Equal(t, "granted", Access{Status: AccessGranted}.String())
}
