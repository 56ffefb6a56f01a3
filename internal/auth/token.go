package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenInfo is what the client can learn from an access token without the signing key.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed at now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Inspect reads claims without verifying the signature. The client uses it only
// for diagnostics; the server remains the authority on validity.
func Inspect(token string) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, errors.New("jwt: token string is empty")
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("jwt: inspect token: %w", err)
	}

	info := TokenInfo{UserID: claims.UserID}
	if info.UserID == "" {
		info.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// BearerToken extracts an access token from the Authorization header, or from the
// token / access_token query parameters used by WebSocket handshakes.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}

	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		if token := strings.TrimSpace(authz[7:]); token != "" {
			return token
		}
	}

	query := r.URL.Query()
	if token := strings.TrimSpace(query.Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(query.Get("access_token"))
}

// StaticTokenSource wraps a fixed access token as an oauth2.TokenSource.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: strings.TrimSpace(token),
		TokenType:   "Bearer",
	})
}

// AuthorizationHeader resolves the current token from src into request headers.
func AuthorizationHeader(src oauth2.TokenSource) (http.Header, error) {
	header := http.Header{}
	if src == nil {
		return header, nil
	}

	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: resolve token: %w", err)
	}
	if token.AccessToken != "" {
		header.Set("Authorization", token.Type()+" "+token.AccessToken)
	}
	return header, nil
}
