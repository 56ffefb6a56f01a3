// Package voice isolates speech capabilities behind small interfaces so the
// chat session works the same with or without them.
package voice

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned when a capability is not available on this platform.
	ErrUnsupported = errors.New("voice: capability not supported")
	// ErrNoSpeech is returned when a listen finished without a transcript.
	ErrNoSpeech = errors.New("voice: no speech recognised")
)

// Input is one-shot push-to-talk speech recognition: Listen starts capture and
// returns a single final transcript or an error, then stops.
type Input interface {
	Supported() bool
	Listen(ctx context.Context) (string, error)
}

// Output speaks text without waiting for the utterance to finish.
type Output interface {
	Supported() bool
	Speak(ctx context.Context, text string) error
}

// Unsupported is the null implementation of both capabilities.
type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) Listen(context.Context) (string, error) { return "", ErrUnsupported }

func (Unsupported) Speak(context.Context, string) error { return ErrUnsupported }

// InputAvailable reports whether in is non-nil and supported.
func InputAvailable(in Input) bool {
	return in != nil && in.Supported()
}

// OutputAvailable reports whether out is non-nil and supported.
func OutputAvailable(out Output) bool {
	return out != nil && out.Supported()
}
