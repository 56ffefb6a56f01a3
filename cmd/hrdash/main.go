package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/charlesng35/hrdash/internal/app"
	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/internal/channel"
	"github.com/charlesng35/hrdash/internal/chat"
	"github.com/charlesng35/hrdash/internal/notifications"
	"github.com/charlesng35/hrdash/internal/voice"
	"github.com/charlesng35/hrdash/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("hrdash", flag.ContinueOnError)
	fs.SetOutput(out)

	var configPath, token, subject string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&token, "token", "", "Access token (overrides client.access_token)")
	fs.StringVar(&subject, "subject", "", "Applicant id for the interview chat (overrides client.subject_id)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if token != "" {
		cfg.Client.AccessToken = token
	}
	if subject != "" {
		cfg.Client.SubjectID = subject
	}

	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort
	log := logger.WithModule("client")

	if strings.TrimSpace(cfg.Client.AccessToken) == "" {
		return errors.New("client.access_token must be configured")
	}
	if info, err := iauth.Inspect(cfg.Client.AccessToken); err == nil {
		log.Info("using access token", zap.String("user_id", info.UserID), zap.Time("expires_at", info.ExpiresAt))
	}
	tokens := iauth.StaticTokenSource(cfg.Client.AccessToken)

	eventsURL, err := cfg.Client.EventsURL()
	if err != nil {
		return err
	}
	chatURL, err := cfg.Client.ChatURL()
	if err != nil {
		return err
	}

	input := voice.NewLineListener(in)

	alerts := notifications.NewChannelAlerter(notifications.DefaultCapacity)
	feedOpts := cfg.Notifications.FeedOptions()
	feedOpts.Alerter = alerts
	feed := notifications.NewFeed(feedOpts)

	session, err := newSession(cfg, chatURL, tokens, input, log)
	if err != nil {
		return err
	}

	chCfg := cfg.Channel.ChannelConfig(eventsURL)
	chCfg.OnStateChange = func(state channel.State) {
		log.Info("event channel", zap.Stringer("state", state))
	}
	stream := channel.New(chCfg)
	con := newConsole(out, feed, session, stream)

	unbind := feed.Bind(stream)
	defer unbind()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := stream.OpenWithTokenSource(ctx, tokens); err != nil {
		return fmt.Errorf("open event channel: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug("close event channel", zap.Error(err))
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-alerts.C:
				con.alert(n)
			}
		}
	}()

	con.printf("connected to %s, type /help for commands", cfg.Client.BaseURL)

	for {
		line, err := input.Listen(ctx)
		switch {
		case errors.Is(err, voice.ErrNoSpeech):
			continue
		case err != nil:
			if session != nil {
				session.Close()
			}
			con.wait()
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if con.handle(ctx, line) {
			if session != nil {
				session.Close()
			}
			con.wait()
			return nil
		}
	}
}

// newSession builds the interview chat session, or returns nil when no
// subject is configured.
func newSession(cfg *app.Config, chatURL string, tokens oauth2.TokenSource, input voice.Input, log *zap.Logger) (*chat.Session, error) {
	if strings.TrimSpace(cfg.Client.SubjectID) == "" {
		log.Info("interview chat disabled: no subject configured")
		return nil, nil
	}

	var (
		in  voice.Input  = voice.Unsupported{}
		out voice.Output = voice.Unsupported{}
	)
	if cfg.Voice.Enabled {
		in = input
		speaker := voice.NewCommandSpeaker(cfg.Voice.SpeakCommand, log)
		if speaker.Supported() {
			out = speaker
		} else {
			log.Warn("speech output unavailable", zap.String("command", cfg.Voice.SpeakCommand))
		}
	}

	session, err := chat.NewSession(chat.Options{
		SubjectID:        cfg.Client.SubjectID,
		Transport:        chat.NewHTTPTransport(chatURL, tokens, cfg.Chat.RequestTimeout),
		Input:            in,
		Output:           out,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	})
	if err != nil {
		return nil, fmt.Errorf("start chat session: %w", err)
	}
	return session, nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
