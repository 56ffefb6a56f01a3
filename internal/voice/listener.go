package voice

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// LineListener treats one line read from r as a final transcript. The terminal
// client uses it as its push-to-talk stand-in.
type LineListener struct {
	r io.Reader

	once  sync.Once
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewLineListener wraps r. Lines are read lazily on the first Listen.
func NewLineListener(r io.Reader) *LineListener {
	return &LineListener{r: r, lines: make(chan lineResult)}
}

func (l *LineListener) Supported() bool { return l != nil && l.r != nil }

// Listen waits for the next line. A blank line yields ErrNoSpeech.
func (l *LineListener) Listen(ctx context.Context) (string, error) {
	if !l.Supported() {
		return "", ErrUnsupported
	}
	l.once.Do(func() { go l.scan() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			return "", ErrNoSpeech
		}
		return text, nil
	}
}

func (l *LineListener) scan() {
	defer close(l.lines)
	scanner := bufio.NewScanner(l.r)
	for scanner.Scan() {
		l.lines <- lineResult{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		l.lines <- lineResult{err: err}
	}
}
