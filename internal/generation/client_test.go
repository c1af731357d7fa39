package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestClient(p Provider, cache Cache) *Client {
	c := NewClient(p, cache, Config{Timeout: time.Second, Attempts: 3, MaxConcurrent: 10}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGenerateCachesIdenticalRequests(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	c := newTestClient(p, NewMemoryCache(time.Hour))
	ctx := context.Background()

	first, err := c.Text(ctx, "prompt", 500, PriorityHigh)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	second, err := c.Text(ctx, "prompt", 500, PriorityHigh)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if first != second {
		t.Fatalf("cached payload differs: %q vs %q", first, second)
	}
	if text, _ := p.calls(); text != 1 {
		t.Fatalf("expected 1 provider call, got %d", text)
	}
	if stats := c.Stats(); stats.CacheHits != 1 || stats.ProviderCalls != 1 || stats.MaxConcurrent != 10 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGenerateKeysByKind(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	c := newTestClient(p, NewMemoryCache(time.Hour))
	ctx := context.Background()

	if _, err := c.Text(ctx, "same", 100, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Image(ctx, "same", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if text, image := p.calls(); text != 1 || image != 1 {
		t.Fatalf("expected one call per kind, got text=%d image=%d", text, image)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	transient := TransientError(KindText, 503, errors.New("unavailable"))
	p := &fakeProvider{textErrs: []error{transient, transient}}
	c := newTestClient(p, nil)

	out, err := c.Text(context.Background(), "p", 100, PriorityHigh)
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if out == "" {
		t.Fatal("empty payload")
	}
	if text, _ := p.calls(); text != 3 {
		t.Fatalf("expected 3 attempts, got %d", text)
	}
}

func TestGenerateGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	transient := TransientError(KindText, 500, errors.New("boom"))
	p := &fakeProvider{textErrs: []error{transient, transient, transient, transient}}
	c := newTestClient(p, NewMemoryCache(time.Hour))

	_, err := c.Text(context.Background(), "p", 100, PriorityHigh)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %v", err)
	}
	if text, _ := p.calls(); text != 3 {
		t.Fatalf("expected 3 provider calls, got %d", text)
	}
	if _, err := c.Text(context.Background(), "p", 100, PriorityHigh); err != nil {
		t.Fatalf("failure should not be cached: %v", err)
	}
}

func TestGenerateDoesNotRetryFatal(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{imageErrs: []error{FatalError(KindImage, 400, errors.New("bad prompt"))}}
	c := newTestClient(p, nil)

	_, err := c.Image(context.Background(), "p", PriorityNormal)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 400 {
		t.Fatalf("provider error not preserved: %v", err)
	}
	if _, image := p.calls(); image != 1 {
		t.Fatalf("fatal error was retried: %d calls", image)
	}
}

func TestGenerateTimesOutSlowCalls(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{block: make(chan struct{})}
	c := NewClient(p, nil, Config{Timeout: 20 * time.Millisecond, Attempts: 2, MaxConcurrent: 1}, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.Text(context.Background(), "slow", 10, PriorityHigh)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if text, _ := p.calls(); text != 2 {
		t.Fatalf("timeout should be retried: %d calls", text)
	}
	if c.Stats().InFlight != 0 {
		t.Fatal("admission slot leaked")
	}
}

func TestGenerateSharesInFlightCalls(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	p := &fakeProvider{block: block}
	c := newTestClient(p, NewMemoryCache(time.Hour))

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Text(context.Background(), "shared", 10, PriorityHigh)
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for c.Stats().InFlight == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(block)
	wg.Wait()

	if text, _ := p.calls(); text != 1 {
		t.Fatalf("expected a single shared provider call, got %d", text)
	}
	for _, r := range results {
		if r != results[0] || r == "" {
			t.Fatalf("callers got different payloads: %v", results)
		}
	}
}

func TestRetryDelayGrows(t *testing.T) {
	t.Parallel()

	if d := retryDelay(0, 3); d != 0 {
		t.Fatalf("zero base should give zero delay, got %v", d)
	}
	first := retryDelay(time.Second, 1)
	third := retryDelay(time.Second, 3)
	if first < time.Second || first > 1100*time.Millisecond {
		t.Fatalf("unexpected first delay %v", first)
	}
	if third < 4*time.Second {
		t.Fatalf("expected backoff to grow, got %v", third)
	}
	if capped := retryDelay(time.Second, 20); capped > maxRetryDelay+maxRetryDelay/10 {
		t.Fatalf("delay not capped: %v", capped)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"transient", TransientError(KindText, 502, errors.New("x")), true},
		{"fatal", FatalError(KindText, 401, errors.New("x")), false},
		{"plain", errors.New("x"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}
