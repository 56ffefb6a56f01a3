package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/events"
	apperrors "github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/logger"
	"github.com/charlesng35/hrdash/pkg/metrics"
)

const (
	DefaultInitialBackoff    = time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultHandshakeTimeout  = 10 * time.Second

	readWait  = 75 * time.Second
	writeWait = 5 * time.Second
)

// Config describes how a Channel reaches the event stream.
type Config struct {
	URL               string
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	HandshakeTimeout  time.Duration

	// Dialer overrides the websocket dialer; HandshakeTimeout is ignored when set.
	Dialer        *websocket.Dialer
	Logger        *zap.Logger
	OnStateChange func(State)
}

type subscription struct {
	types   map[events.Type]struct{}
	handler events.Handler
}

func (s *subscription) matches(t events.Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Channel owns one authenticated, receive-only connection to the event stream
// and fans decoded events out to subscribers. Transport faults never surface to
// the caller: the channel drops to Disconnected and retries with backoff until
// Close is called.
type Channel struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	opened  bool
	tokens  oauth2.TokenSource
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[uint64]*subscription
	nextSub uint64

	reconnects atomic.Int64
}

// New constructs a channel in the Disconnected state. Nothing is dialed until Open.
func New(cfg Config) *Channel {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	metrics.ChannelState.Set(float64(Disconnected))

	return &Channel{
		cfg:    cfg,
		log:    logger.OrModule(cfg.Logger, "channel"),
		dialer: dialer,
		state:  Disconnected,
		subs:   make(map[uint64]*subscription),
	}
}

// Open starts connecting with a fixed bearer token.
func (c *Channel) Open(ctx context.Context, token string) error {
	return c.OpenWithTokenSource(ctx, auth.StaticTokenSource(token))
}

// OpenWithTokenSource starts the connection loop. The source is consulted on
// every attempt so refreshed tokens are picked up on reconnect. Open returns
// immediately; connection progress is observable through State. Calling Open on
// an already open channel is a no-op. Cancelling ctx stops the loop and leaves
// the channel Disconnected, ready to be opened again; Close is terminal.
func (c *Channel) OpenWithTokenSource(ctx context.Context, tokens oauth2.TokenSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return apperrors.ErrChannelClosed
	}
	if c.opened {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.opened = true
	c.tokens = tokens
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, c.done)
	return nil
}

// Subscribe registers handler for the given event types. An empty type list
// subscribes to every event. Handlers run on the channel's read goroutine, one
// event at a time, so events of one type arrive in server order. The returned
// func removes the subscription and is safe to call more than once. Handlers
// must not call Close.
func (c *Channel) Subscribe(types []events.Type, handler events.Handler) func() {
	if handler == nil {
		return func() {}
	}

	sub := &subscription{types: make(map[events.Type]struct{}, len(types)), handler: handler}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnects counts how many times an established connection was lost and retried.
func (c *Channel) Reconnects() int64 {
	return c.reconnects.Load()
}

// Close tears the channel down. It releases the live connection or aborts a
// pending dial or backoff wait, then waits for the connection loop to exit.
// Closed is terminal; later calls return nil.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	cancel, done, conn := c.cancel, c.done, c.conn
	c.conn = nil
	notify := c.cfg.OnStateChange
	c.mu.Unlock()

	metrics.ChannelState.Set(float64(Closed))
	if notify != nil {
		notify(Closed)
	}

	var err error
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = multierr.Append(err, fmt.Errorf("channel: send close frame: %w", werr))
		}
		err = multierr.Append(err, conn.Close())
	}
	if done != nil {
		<-done
	}

	c.log.Debug("event channel closed")
	return err
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.finish()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.Multiplier = c.cfg.BackoffMultiplier
	policy.MaxElapsedTime = 0
	policy.Reset()
	retry := backoff.WithContext(policy, ctx)

	for {
		c.setState(Connecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ChannelConnectAttempts.WithLabelValues("failure").Inc()
			c.setState(Disconnected)
			if !c.wait(ctx, retry.NextBackOff()) {
				return
			}
			continue
		}

		metrics.ChannelConnectAttempts.WithLabelValues("success").Inc()
		if !c.attach(ctx, conn) {
			_ = conn.Close()
			return
		}
		retry.Reset()
		c.setState(Connected)
		c.log.Info("event channel connected", zap.String("url", c.cfg.URL))

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = c.readLoop(conn)
		stop()
		c.detach(conn)
		if ctx.Err() != nil {
			return
		}

		c.log.Warn("event channel disconnected", zap.Error(err))
		c.reconnects.Add(1)
		c.setState(Disconnected)
		if !c.wait(ctx, retry.NextBackOff()) {
			return
		}
	}
}

// finish runs when the connection loop exits. Unless the channel was closed it
// returns to Disconnected and may be opened again.
func (c *Channel) finish() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.opened = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	changed := c.state != Disconnected
	c.state = Disconnected
	notify := c.cfg.OnStateChange
	c.mu.Unlock()

	if changed {
		metrics.ChannelState.Set(float64(Disconnected))
		if notify != nil {
			notify(Disconnected)
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header, err := auth.AuthorizationHeader(c.tokens)
	if err != nil {
		c.log.Warn("event channel token unavailable", zap.Error(err))
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.logRejectedToken(resp.StatusCode)
		} else if ctx.Err() == nil {
			c.log.Debug("event channel dial failed", zap.Error(err))
		}
		return nil, fmt.Errorf("channel: dial: %w", err)
	}
	return conn, nil
}

func (c *Channel) logRejectedToken(status int) {
	fields := []zap.Field{zap.Int("status", status)}
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil {
			if info, err := auth.Inspect(token.AccessToken); err == nil {
				fields = append(fields, zap.String("user_id", info.UserID))
				if info.Expired(time.Now()) {
					c.log.Warn("event channel handshake rejected: access token expired",
						append(fields, zap.Time("expired_at", info.ExpiresAt))...)
					return
				}
			}
		}
	}
	c.log.Warn("event channel handshake rejected", fields...)
}

func (c *Channel) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || c.state == Closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		ev, err := events.Decode(data, time.Now())
		if errors.Is(err, events.ErrMalformedPayload) {
			c.log.Warn("event payload did not match its type, delivering raw fields",
				zap.String("type", string(ev.Type)), zap.Error(err))
		} else if err != nil {
			c.log.Warn("discarding malformed event frame", zap.Error(err))
			continue
		}
		metrics.ChannelEvents.WithLabelValues(string(ev.Type)).Inc()
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev events.Event) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	// Subscription order is registration order.
	slices.Sort(ids)

	delivered := 0
	for _, id := range ids {
		c.mu.Lock()
		sub, ok := c.subs[id]
		c.mu.Unlock()
		if !ok || !sub.matches(ev.Type) {
			continue
		}
		c.deliver(sub.handler, ev)
		delivered++
	}
	if delivered == 0 {
		c.log.Debug("event had no subscriber",
			zap.String("type", string(ev.Type)),
			zap.Bool("known", ev.Type.Known()),
			zap.String("id", ev.ID),
		)
	}
}

func (c *Channel) deliver(handler events.Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked",
				zap.String("type", string(ev.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	handler(ev)
}

func (c *Channel) setState(next State) {
	c.mu.Lock()
	if c.state == next || (c.state == Closed && next != Closed) {
		c.mu.Unlock()
		return
	}
	c.state = next
	notify := c.cfg.OnStateChange
	c.mu.Unlock()

	metrics.ChannelState.Set(float64(next))
	if notify != nil {
		notify(next)
	}
}
