package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charlesng35/hrdash/internal/chat"
	"github.com/charlesng35/hrdash/internal/channel"
	"github.com/charlesng35/hrdash/internal/notifications"
	apperrors "github.com/charlesng35/hrdash/pkg/errors"
)

const helpText = `commands:
  /list           show notifications, newest first
  /read <n|id>    mark one notification read
  /readall        mark every notification read
  /dismiss <n|id> remove a notification
  /retry          resend the last failed message
  /voice          speak a message (type the transcript on the next line)
  /status         show connection and chat state
  /help           show this help
  /quit           exit
anything else is sent to the interview chat`

// channelStatus is the part of the event channel the console reports on.
type channelStatus interface {
	State() channel.State
	Reconnects() int64
}

// console renders the feed and chat session as a line-oriented terminal UI.
type console struct {
	out     io.Writer
	feed    *notifications.Feed
	session *chat.Session
	events  channelStatus

	mu     sync.Mutex
	listed []string
	wg     sync.WaitGroup
}

func newConsole(out io.Writer, feed *notifications.Feed, session *chat.Session, events channelStatus) *console {
	return &console{out: out, feed: feed, session: session, events: events}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// handle executes one input line and reports whether the user asked to quit.
// Chat turns run in the background so the feed stays usable while a reply is pending.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		c.sendAsync(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf("%s", helpText)
	case "/list":
		c.list()
	case "/read":
		if id, ok := c.resolve(arg); ok {
			c.feed.MarkRead(id)
			c.printf("unread: %d", c.feed.UnreadCount())
		}
	case "/readall":
		c.feed.MarkAllRead()
		c.printf("unread: %d", c.feed.UnreadCount())
	case "/dismiss":
		if id, ok := c.resolve(arg); ok {
			if !c.feed.Dismiss(id) {
				c.printf("no notification %s", id)
			}
		}
	case "/retry":
		c.retryAsync(ctx)
	case "/voice":
		c.voice(ctx)
	case "/status":
		c.status()
	default:
		c.printf("unknown command %s, try /help", cmd)
	}
	return false
}

// wait blocks until background chat turns finish.
func (c *console) wait() {
	c.wg.Wait()
}

// alert prints a transient notification.
func (c *console) alert(n notifications.Notification) {
	c.printf("[%s] %s: %s", n.Severity, n.Title, n.Message)
}

func (c *console) list() {
	items := c.feed.Items()

	c.mu.Lock()
	c.listed = c.listed[:0]
	for _, n := range items {
		c.listed = append(c.listed, n.ID)
	}
	c.mu.Unlock()

	if len(items) == 0 {
		c.printf("no notifications")
		return
	}
	for i, n := range items {
		marker := "*"
		if n.Read {
			marker = " "
		}
		c.printf("%2d %s %s  %s - %s", i+1, marker, n.Timestamp.Local().Format(time.Kitchen), n.Title, n.Message)
	}
	c.printf("unread: %d", c.feed.UnreadCount())
}

// resolve accepts either a position from the last /list or a notification id.
func (c *console) resolve(arg string) (string, bool) {
	if arg == "" {
		c.printf("usage: /read <n|id>")
		return "", false
	}

	if n, err := strconv.Atoi(arg); err == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if n >= 1 && n <= len(c.listed) {
			return c.listed[n-1], true
		}
		fmt.Fprintf(c.out, "no entry %d in the last /list\n", n)
		return "", false
	}
	return arg, true
}

func (c *console) status() {
	if c.events != nil {
		c.printf("events: %s (reconnects %d)", c.events.State(), c.events.Reconnects())
	}
	c.printf("notifications: %d, unread %d", c.feed.Len(), c.feed.UnreadCount())
	if c.session == nil {
		c.printf("chat: disabled (no subject configured)")
		return
	}
	c.printf("chat: subject %s, access %s, pending %t", c.session.SubjectID(), c.session.Access(), c.session.Pending())
}

func (c *console) sendAsync(ctx context.Context, text string) {
	if !c.chatReady() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		answer, err := c.session.SendMessage(ctx, text)
		c.report(answer, err)
	}()
}

func (c *console) retryAsync(ctx context.Context) {
	if !c.chatReady() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		answer, err := c.session.RetryLast(ctx)
		c.report(answer, err)
	}()
}

// voice runs in the foreground because the transcript is read from the same input.
func (c *console) voice(ctx context.Context) {
	if !c.chatReady() {
		return
	}
	if !c.session.VoiceInputSupported() {
		c.printf("voice input is not available")
		return
	}
	c.printf("listening...")
	answer, err := c.session.SendVoiceMessage(ctx)
	c.report(answer, err)
}

func (c *console) chatReady() bool {
	if c.session == nil {
		c.printf("chat is disabled: set client.subject_id")
		return false
	}
	return true
}

func (c *console) report(answer chat.Message, err error) {
	var denied *chat.AccessDeniedError
	switch {
	case err == nil:
		c.printf("interviewer: %s", answer.Content)
	case errors.As(err, &denied):
		c.printf("chat unavailable: %s", denied.Reason)
	case errors.Is(err, apperrors.ErrTurnInFlight):
		c.printf("still waiting for the previous reply")
	case errors.Is(err, apperrors.ErrChatUnavailable):
		c.printf("message not delivered, use /retry")
	case errors.Is(err, apperrors.ErrBadRequest):
		c.printf("message rejected: %v", err)
	case errors.Is(err, chat.ErrNothingToRetry):
		c.printf("nothing to retry")
	case errors.Is(err, apperrors.ErrSessionClosed), errors.Is(err, context.Canceled):
	default:
		c.printf("chat error: %v", err)
	}
}
