package notifications

// Alerter shows a transient alert for a newly received notification. It is
// called after the feed has been updated and must not block for long.
type Alerter interface {
	Alert(Notification)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(Notification)

func (fn AlerterFunc) Alert(n Notification) { fn(n) }

// ChannelAlerter forwards alerts to a buffered channel, dropping them when the
// reader falls behind.
type ChannelAlerter struct {
	C chan Notification
}

// NewChannelAlerter creates a ChannelAlerter with the given buffer size.
func NewChannelAlerter(buffer int) *ChannelAlerter {
	if buffer <= 0 {
		buffer = DefaultCapacity
	}
	return &ChannelAlerter{C: make(chan Notification, buffer)}
}

func (a *ChannelAlerter) Alert(n Notification) {
	select {
	case a.C <- n:
	default:
	}
}
