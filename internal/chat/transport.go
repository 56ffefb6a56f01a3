package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/charlesng35/hrdash/pkg/errors"
)

// DefaultReason is shown when the server denies access without saying why.
const DefaultReason = "access denied"

const maxErrorBody = 64 << 10

// Request is one outbound chat turn. ConversationID is omitted from the wire
// payload until the server has assigned one.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	SubjectID      string `json:"subjectId,omitempty"`
}

// Reply is the interviewer's answer to a turn.
type Reply struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Transport carries chat turns to the interview backend. Implementations
// return *AccessDeniedError when the backend refuses the turn.
type Transport interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Reply, error)

func (fn TransportFunc) Send(ctx context.Context, req Request) (Reply, error) { return fn(ctx, req) }

// AccessDeniedError reports that the backend refused the turn, typically
// because the caller is outside the scheduled interview window. Reason is
// display text supplied by the backend.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "chat: access denied: " + e.Reason
}

func (e *AccessDeniedError) Is(target error) bool {
	return target == apperrors.ErrAccessDenied
}

// RequestError is a transient turn failure. The user may resend.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat: request failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat: request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool {
	return target == apperrors.ErrChatUnavailable
}

// Retryable reports whether resending may succeed. Transient failures always may.
func (e *RequestError) Retryable() bool { return true }

// HTTPTransport posts turns as JSON to the interview chat endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport builds a transport for endpoint. When tokens is non-nil the
// client attaches a bearer token to every request. A zero timeout leaves
// request lifetime to the caller's context.
func NewHTTPTransport(endpoint string, tokens oauth2.TokenSource, timeout time.Duration) *HTTPTransport {
	client := &http.Client{Timeout: timeout}
	if tokens != nil {
		client = oauth2.NewClient(context.Background(), tokens)
		client.Timeout = timeout
	}
	return &HTTPTransport{endpoint: endpoint, client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Reply{}, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reply{}, &AccessDeniedError{Reason: denialReason(raw)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reply{}, &RequestError{StatusCode: resp.StatusCode, Err: errors.New(errorMessage(raw, resp.Status))}
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return reply, nil
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
}

// denialReason extracts the display reason from a 403 body: error.message,
// then message, then reason. The text is passed through untouched.
func denialReason(raw []byte) string {
	if msg := errorMessage(raw, ""); msg != "" {
		return msg
	}
	return DefaultReason
}

func errorMessage(raw []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return fallback
	}

	if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
		var flat string
		if err := json.Unmarshal(body.Error, &flat); err == nil && strings.TrimSpace(flat) != "" {
			return strings.TrimSpace(flat)
		}
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	if reason := strings.TrimSpace(body.Reason); reason != "" {
		return reason
	}
	return fallback
}
