package voice

import (
	"context"
	"sync"
)

// FakeInput returns a fixed transcript or error.
type FakeInput struct {
	text string
	err  error
}

func NewFakeInput(text string, err error) *FakeInput {
	return &FakeInput{text: text, err: err}
}

func (f *FakeInput) Supported() bool { return true }

func (f *FakeInput) Listen(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// FakeOutput records spoken text.
type FakeOutput struct {
	mu     sync.Mutex
	err    error
	spoken []string
}

func NewFakeOutput(err error) *FakeOutput {
	return &FakeOutput{err: err}
}

func (f *FakeOutput) Supported() bool { return true }

func (f *FakeOutput) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.err
}

// Spoken returns everything passed to Speak, failed attempts included.
func (f *FakeOutput) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}
