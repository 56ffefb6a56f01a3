package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/internal/app"
	iauth "github.com/charlesng35/hrdash/internal/auth"
	"github.com/charlesng35/hrdash/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("hrdash-devserver", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath string
		issueFor   string
		replyDelay time.Duration
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&issueFor, "issue-token", "", "Print an access token for the given user id and exit")
	fs.DurationVar(&replyDelay, "reply-delay", 0, "Delay interview chat replies by this duration")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if issueFor != "" {
		token, err := issueToken(cfg, issueFor)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Warn("generated runtime secret; tokens will not survive a restart", zap.String("key", key))
	}

	stack, err := bootstrapRuntime(cfg, log, replyDelay)
	if err != nil {
		return err
	}
	defer stack.Shutdown(log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	stack.Hub.CloseAll()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
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

// issueToken signs a development access token. It refuses to use a generated
// secret since the running server would not accept the result.
func issueToken(cfg *app.Config, userID string) (string, error) {
	if strings.TrimSpace(cfg.DevServer.JWTSecret) == "" {
		return "", errors.New("devserver.jwt_secret must be configured to issue tokens")
	}

	jwtSvc, err := iauth.NewJWTService(cfg.DevServer.JWTServiceConfig())
	if err != nil {
		return "", fmt.Errorf("initialise jwt service: %w", err)
	}
	return jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: strings.TrimSpace(userID)})
}
