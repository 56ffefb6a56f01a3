package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/realtime"
	"github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated event streams.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream validates the caller and hands the connection to the hub. Browsers
// cannot set headers on websocket handshakes, so the token may also arrive as
// a query parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := iauth.BearerToken(c.Request)
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
