package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/charlesng35/hrdash/internal/events"
	"github.com/charlesng35/hrdash/internal/realtime"
	"github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/response"
)

// EventsHandler lets developers push notification events through the hub.
type EventsHandler struct {
	hub *realtime.Hub
	now func() time.Time
}

// NewEventsHandler constructs an events handler backed by hub.
func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub, now: time.Now}
}

type publishEventRequest struct {
	Type      string         `json:"type" validate:"required,notblank"`
	Message   string         `json:"message"`
	UserID    string         `json:"userId"`
	Broadcast bool           `json:"broadcast"`
	Data      map[string]any `json:"data"`
}

type publishEventResult struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Recipients  string `json:"recipients"`
	Connections int    `json:"connections"`
}

// Publish handles POST /api/events. The event goes to the caller unless a
// target userId is given or broadcast is set.
func (h *EventsHandler) Publish(c *gin.Context) {
	userID := callerID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req publishEventRequest
	if !bindAndValidate(c, &req) {
		return
	}

	now := h.now()
	fields := make(map[string]any, len(req.Data)+4)
	for k, v := range req.Data {
		fields[k] = v
	}
	fields["id"] = uuid.NewString()
	fields["type"] = strings.TrimSpace(req.Type)
	fields["message"] = req.Message
	fields["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(fields)
	if err != nil {
		response.Error(c, errors.NewBadRequest("event data is not serialisable"))
		return
	}

	// Payloads the client would only accept as generic fields are rejected.
	ev, err := events.DecodeEnvelope(events.Envelope{
		Stream: events.StreamNotifications,
		Event:  string(events.ParseType(req.Type)),
		Data:   data,
	}, now)
	if err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	frame, err := events.Encode(ev)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	result := publishEventResult{ID: ev.ID, Type: string(ev.Type)}
	if req.Broadcast {
		h.hub.Broadcast(frame)
		result.Recipients = "*"
		result.Connections = h.hub.TotalConnections()
	} else {
		target := strings.TrimSpace(req.UserID)
		if target == "" {
			target = userID
		}
		h.hub.Publish(target, frame)
		result.Recipients = target
		result.Connections = h.hub.Connections(target)
	}

	response.Success(c, http.StatusAccepted, result)
}
