package voice

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/hrdash/pkg/logger"
)

// CommandSpeaker speaks through an external text-to-speech program such as
// espeak or say. The text is passed on stdin.
type CommandSpeaker struct {
	name string
	args []string
	log  *zap.Logger

	lookPath func(string) (string, error)
	start    func(cmd *exec.Cmd) error
}

// NewCommandSpeaker parses command ("espeak -s 150") into a speaker. An empty
// command yields a speaker that reports itself unsupported.
func NewCommandSpeaker(command string, log *zap.Logger) *CommandSpeaker {
	fields := strings.Fields(command)
	s := &CommandSpeaker{
		log:      logger.OrModule(log, "voice"),
		lookPath: exec.LookPath,
		start:    func(cmd *exec.Cmd) error { return cmd.Start() },
	}
	if len(fields) > 0 {
		s.name = fields[0]
		s.args = fields[1:]
	}
	return s
}

func (s *CommandSpeaker) Supported() bool {
	if s == nil || s.name == "" {
		return false
	}
	_, err := s.lookPath(s.name)
	return err == nil
}

// Speak starts the program and returns once it is running. Exit failures are logged.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if !s.Supported() {
		return ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(s.name, s.args...)
	cmd.Stdin = strings.NewReader(text)
	if err := s.start(cmd); err != nil {
		return fmt.Errorf("voice: start %s: %w", s.name, err)
	}

	go func() {
		if cmd.Process == nil {
			return
		}
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				s.log.Warn("speech command failed", zap.String("command", s.name), zap.Int("exit_code", exitErr.ExitCode()))
				return
			}
			s.log.Warn("speech command failed", zap.String("command", s.name), zap.Error(err))
		}
	}()
	return nil
}
