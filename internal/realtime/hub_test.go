package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hrdash/internal/events"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(r.URL.Query().Get("user"), w, r)
	}))
	t.Cleanup(server.Close)

	return hub, strings.Replace(server.URL, "http", "ws", 1)
}

func dialUser(t *testing.T, base, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, user string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Connections(user) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame events.Envelope
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHubPublishesToTargetUserOnly(t *testing.T) {
	hub, base := startHub(t)

	alice := dialUser(t, base, "alice")
	bob := dialUser(t, base, "bob")
	waitForConnections(t, hub, "alice", 1)
	waitForConnections(t, hub, "bob", 1)

	require.NoError(t, hub.PublishEvent("alice", events.Event{
		Type:    events.TypePayrollProcessed,
		Message: "Payroll for March processed",
	}))

	frame := readFrame(t, alice)
	require.Equal(t, events.StreamNotifications, frame.Stream)
	require.Equal(t, "payroll_processed", frame.Event)

	ev, err := events.DecodeEnvelope(frame, time.Now())
	require.NoError(t, err)
	require.Equal(t, "Payroll for March processed", ev.Message)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = bob.ReadMessage()
	require.Error(t, err)
}

func TestHubBroadcastReachesEveryone(t *testing.T) {
	hub, base := startHub(t)

	first := dialUser(t, base, "alice")
	second := dialUser(t, base, "bob")
	waitForConnections(t, hub, "alice", 1)
	waitForConnections(t, hub, "bob", 1)
	require.Equal(t, 2, hub.TotalConnections())

	frame, err := events.Encode(events.Event{Type: events.TypeAttendanceReminder, Message: "Clock in"})
	require.NoError(t, err)
	hub.Broadcast(frame)

	require.Equal(t, "attendance_reminder", readFrame(t, first).Event)
	require.Equal(t, "attendance_reminder", readFrame(t, second).Event)
}

func TestHubUnregistersOnClientClose(t *testing.T) {
	hub, base := startHub(t)

	conn := dialUser(t, base, "carol")
	waitForConnections(t, hub, "carol", 1)

	require.NoError(t, conn.Close())
	waitForConnections(t, hub, "carol", 0)
}

func TestHubDisconnectClosesClients(t *testing.T) {
	hub, base := startHub(t)

	conn := dialUser(t, base, "dave")
	waitForConnections(t, hub, "dave", 1)

	hub.Disconnect("dave")
	waitForConnections(t, hub, "dave", 0)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHubCloseAll(t *testing.T) {
	hub, base := startHub(t)

	dialUser(t, base, "erin")
	dialUser(t, base, "frank")
	waitForConnections(t, hub, "erin", 1)
	waitForConnections(t, hub, "frank", 1)

	hub.CloseAll()
	require.Eventually(t, func() bool { return hub.TotalConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHostHelpers(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:8443"))
	require.Equal(t, "127.0.0.1", hostWithoutPort("127.0.0.1:9000"))
	require.True(t, isLoopback("localhost"))
	require.True(t, isLoopback("::1"))
	require.False(t, isLoopback("10.0.0.1"))
}
