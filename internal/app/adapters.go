package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/channel"
	"github.com/charlesng35/hrdash/internal/events"
	"github.com/charlesng35/hrdash/internal/notifications"
)

// EventsURL resolves the websocket endpoint, switching http(s) to ws(s).
func (c ClientConfig) EventsURL() (string, error) {
	u, err := c.resolve(c.EventsPath)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// ChatURL resolves the interview chat endpoint.
func (c ClientConfig) ChatURL() (string, error) {
	u, err := c.resolve(c.ChatPath)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c ClientConfig) resolve(path string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("config: parse client.base_url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("config: client.base_url %q must be absolute", c.BaseURL)
	}
	ref, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse path %q: %w", path, err)
	}
	return base.ResolveReference(ref), nil
}

// ChannelConfig converts ChannelSettings into event channel parameters.
func (c ChannelSettings) ChannelConfig(endpoint string) channel.Config {
	return channel.Config{
		URL:               endpoint,
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		HandshakeTimeout:  c.HandshakeTimeout,
	}
}

// FeedOptions converts NotificationsConfig into feed options.
func (c NotificationsConfig) FeedOptions() notifications.Options {
	capacity := c.Capacity
	if capacity <= 0 {
		capacity = notifications.DefaultCapacity
	}

	var types []events.Type
	seen := make(map[events.Type]struct{}, len(c.EventTypes))
	for _, name := range c.EventTypes {
		t := events.ParseType(name)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}

	return notifications.Options{Capacity: capacity, Types: types}
}

// JWTServiceConfig converts DevServerConfig into the parameters expected by the JWT service.
func (c DevServerConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.AccessTokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWTSecret,
		Issuer:         c.JWTIssuer,
		AccessTokenTTL: ttl,
	}
}
