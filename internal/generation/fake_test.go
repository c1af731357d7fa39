package generation

import (
	"context"
	"sync"
)

// fakeProvider scripts provider results per call.
type fakeProvider struct {
	mu         sync.Mutex
	textCalls  int
	imageCalls int
	textErrs   []error
	imageErrs  []error
	text       func(prompt string) string
	block      chan struct{}
}

func (f *fakeProvider) GenerateText(ctx context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	n := f.textCalls
	f.textCalls++
	var err error
	if n < len(f.textErrs) {
		err = f.textErrs[n]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if f.text != nil {
		return f.text(prompt), nil
	}
	return "text for " + prompt, nil
}

func (f *fakeProvider) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.imageCalls
	f.imageCalls++
	if n < len(f.imageErrs) && f.imageErrs[n] != nil {
		return "", f.imageErrs[n]
	}
	return "https://images.example/" + CacheKey(KindImage, prompt), nil
}

func (f *fakeProvider) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls, f.imageCalls
}
