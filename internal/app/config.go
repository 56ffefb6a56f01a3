package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the hrdash client and dev server.
type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	Client        ClientConfig        `mapstructure:"client"`
	Channel       ChannelSettings     `mapstructure:"channel"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Voice         VoiceConfig         `mapstructure:"voice"`
	DevServer     DevServerConfig     `mapstructure:"devserver"`
}

// ClientConfig locates the HR backend.
type ClientConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	EventsPath  string `mapstructure:"events_path"`
	ChatPath    string `mapstructure:"chat_path"`
	AccessToken string `mapstructure:"access_token"`
	SubjectID   string `mapstructure:"subject_id"`
}

// ChannelSettings tunes event channel reconnects.
type ChannelSettings struct {
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

// NotificationsConfig sizes the alert feed and picks the event types it shows.
type NotificationsConfig struct {
	Capacity   int      `mapstructure:"capacity"`
	EventTypes []string `mapstructure:"event_types"`
}

// ChatConfig configures interview chat turns.
type ChatConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// VoiceConfig toggles speech support.
type VoiceConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SpeakCommand string `mapstructure:"speak_command"`
}

// DevServerConfig configures the local stand-in backend.
type DevServerConfig struct {
	Port             int               `mapstructure:"port"`
	JWTSecret        string            `mapstructure:"jwt_secret"`
	JWTIssuer        string            `mapstructure:"jwt_issuer"`
	AccessTokenTTL   time.Duration     `mapstructure:"access_token_ttl"`
	ReminderSchedule string            `mapstructure:"reminder_schedule"`
	Interviews       []InterviewWindow `mapstructure:"interviews"`
}

// InterviewWindow is the period during which chat about SubjectID is allowed.
type InterviewWindow struct {
	SubjectID string    `mapstructure:"subject_id"`
	StartsAt  time.Time `mapstructure:"starts_at"`
	EndsAt    time.Time `mapstructure:"ends_at"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("HRDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("client.base_url", "http://localhost:8088")
	v.SetDefault("client.events_path", "/ws")
	v.SetDefault("client.chat_path", "/api/interviews/chat")
	v.SetDefault("client.access_token", "")
	v.SetDefault("client.subject_id", "")

	v.SetDefault("channel.initial_backoff", "1s")
	v.SetDefault("channel.max_backoff", "30s")
	v.SetDefault("channel.backoff_multiplier", 2.0)
	v.SetDefault("channel.handshake_timeout", "10s")

	v.SetDefault("notifications.capacity", 10)
	v.SetDefault("notifications.event_types", []string{
		"application_update",
		"new_application",
		"new_job",
		"interview_scheduled",
		"payroll_processed",
		"performance_review",
		"attendance_reminder",
	})

	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.request_timeout", "0s")

	v.SetDefault("voice.enabled", false)
	v.SetDefault("voice.speak_command", "")

	v.SetDefault("devserver.port", 8088)
	v.SetDefault("devserver.jwt_secret", "")
	v.SetDefault("devserver.jwt_issuer", "hrdash")
	v.SetDefault("devserver.access_token_ttl", "8h")
	v.SetDefault("devserver.reminder_schedule", "@daily")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
