package notifications

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/events"
	"github.com/charlesng35/hrdash/pkg/logger"
	"github.com/charlesng35/hrdash/pkg/metrics"
)

// DefaultCapacity is the number of alerts a feed keeps.
const DefaultCapacity = 10

// Notification is one entry in the alert feed.
type Notification struct {
	ID        string          `json:"id"`
	Type      events.Type     `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Severity  events.Severity `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Read      bool            `json:"read"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	Payload   events.Payload  `json:"-"`
}

// Subscriber is the part of the event channel the feed needs.
type Subscriber interface {
	Subscribe(types []events.Type, handler events.Handler) func()
}

// Options configures a Feed.
type Options struct {
	Capacity int
	// Types bound by Bind. Defaults to events.KnownTypes().
	Types   []events.Type
	Alerter Alerter
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Feed is a bounded, newest-first buffer of alerts with per-entry read state.
type Feed struct {
	mu       sync.RWMutex
	items    []Notification
	capacity int
	types    []events.Type
	alerter  Alerter
	log      *zap.Logger
	now      func() time.Time
}

// NewFeed constructs an empty feed.
func NewFeed(opts Options) *Feed {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	types := opts.Types
	if len(types) == 0 {
		types = events.KnownTypes()
	} else {
		types = append([]events.Type(nil), types...)
	}

	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock
	}

	return &Feed{
		items:    make([]Notification, 0, capacity),
		capacity: capacity,
		types:    types,
		alerter:  opts.Alerter,
		log:      logger.OrModule(opts.Logger, "notifications"),
		now:      now,
	}
}

// Bind subscribes the feed to its event types on sub and returns the unsubscribe func.
func (f *Feed) Bind(sub Subscriber) func() {
	return sub.Subscribe(f.Types(), f.OnEvent)
}

// Types returns the event types the feed binds to.
func (f *Feed) Types() []events.Type {
	return append([]events.Type(nil), f.types...)
}

// OnEvent records ev at the head of the feed, evicting the oldest entry when
// the feed is full, then raises a transient alert. Unknown event types are kept
// with the generic presentation.
func (f *Feed) OnEvent(ev events.Event) {
	n := f.build(ev)

	f.mu.Lock()
	f.items = append(f.items, Notification{})
	copy(f.items[1:], f.items)
	f.items[0] = n
	if len(f.items) > f.capacity {
		for _, evicted := range f.items[f.capacity:] {
			f.log.Debug("evicting notification", zap.String("id", evicted.ID), zap.String("type", string(evicted.Type)))
		}
		clear(f.items[f.capacity:])
		f.items = f.items[:f.capacity]
	}
	unread := f.unreadLocked()
	f.mu.Unlock()

	metrics.NotificationsUnread.Set(float64(unread))
	f.alert(n)
}

func (f *Feed) build(ev events.Event) Notification {
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		id = uuid.NewString()
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = f.now()
	}

	presentation := events.PresentationFor(ev.Type)
	if !ev.Type.Known() {
		f.log.Debug("presenting unknown event type generically", zap.String("type", string(ev.Type)))
	}

	message := ev.Message
	if message == "" {
		message = presentation.Title
	}

	return Notification{
		ID:        id,
		Type:      ev.Type,
		Title:     presentation.Title,
		Message:   message,
		Severity:  presentation.Severity,
		Timestamp: ts,
		Payload:   ev.Payload,
	}
}

func (f *Feed) alert(n Notification) {
	if f.alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("alerter panicked", zap.String("id", n.ID), zap.Any("panic", r))
		}
	}()
	f.alerter.Alert(n)
}

// MarkRead flags the entry with id as read. Unknown ids, including entries
// that were already evicted, are ignored.
func (f *Feed) MarkRead(id string) {
	f.mu.Lock()
	changed := false
	for i := range f.items {
		if f.items[i].ID != id {
			continue
		}
		if !f.items[i].Read {
			now := f.now()
			f.items[i].Read = true
			f.items[i].ReadAt = &now
			changed = true
		}
		break
	}
	unread := f.unreadLocked()
	f.mu.Unlock()

	if changed {
		metrics.NotificationsUnread.Set(float64(unread))
	}
}

// MarkAllRead flags every current entry as read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	now := f.now()
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			f.items[i].ReadAt = &now
		}
	}
	f.mu.Unlock()

	metrics.NotificationsUnread.Set(0)
}

// Dismiss removes the entry with id. It reports whether an entry was removed.
func (f *Feed) Dismiss(id string) bool {
	f.mu.Lock()
	removed := false
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			removed = true
			break
		}
	}
	unread := f.unreadLocked()
	f.mu.Unlock()

	if removed {
		metrics.NotificationsUnread.Set(float64(unread))
	}
	return removed
}

// UnreadCount counts unread entries in the current buffer.
func (f *Feed) UnreadCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unreadLocked()
}

func (f *Feed) unreadLocked() int {
	count := 0
	for _, n := range f.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Items returns a snapshot of the feed, newest first.
func (f *Feed) Items() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Notification, len(f.items))
	copy(out, f.items)
	for i := range out {
		out[i].ReadAt = copyTime(out[i].ReadAt)
	}
	return out
}

// Get returns the entry with id.
func (f *Feed) Get(id string) (Notification, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, n := range f.items {
		if n.ID == id {
			n.ReadAt = copyTime(n.ReadAt)
			return n, true
		}
	}
	return Notification{}, false
}

// Len returns the number of entries held.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
