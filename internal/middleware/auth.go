package middleware

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/pkg/errors"
	"github.com/charlesng35/hrdash/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxRoleKey   = "role"
)

// Auth enforces JWT authentication using the supplied JWT service. Tokens are
// accepted from the Authorization header or, for websocket handshakes, the
// token query parameter.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := iauth.BearerToken(c.Request)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.Role != "" {
			c.Set(CtxRoleKey, claims.Role)
		}

		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Auth, if any.
func ClaimsFrom(c *gin.Context) (*iauth.Claims, bool) {
	value, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*iauth.Claims)
	return claims, ok && claims != nil
}
