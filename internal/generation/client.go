package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds client tuning.
type Config struct {
	Timeout       time.Duration // per attempt
	Attempts      int
	RetryDelay    time.Duration
	MaxConcurrent int
}

// Request is one generation call.
type Request struct {
	Kind      Kind
	Prompt    string
	MaxTokens int
	Priority  Priority
}

// Stats is a snapshot of client counters.
type Stats struct {
	ProviderCalls int64 `json:"provider_calls"`
	CacheHits     int64 `json:"cache_hits"`
	Failures      int64 `json:"failures"`
	InFlight      int   `json:"in_flight"`
	Waiting       int   `json:"waiting"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// Client fronts a Provider. Identical requests in flight at the same time
// share one provider call.
type Client struct {
	provider Provider
	cache    Cache
	gate     *Gate
	group    singleflight.Group
	cfg      Config
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error

	providerCalls atomic.Int64
	cacheHits     atomic.Int64
	failures      atomic.Int64
}

// NewClient creates a client. A nil cache disables caching.
func NewClient(p Provider, cache Cache, cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Client{
		provider: p,
		cache:    cache,
		gate:     NewGate(cfg.MaxConcurrent),
		cfg:      cfg,
		log:      log,
		sleep:    sleepContext,
	}
}

// Text generates a completion.
func (c *Client) Text(ctx context.Context, prompt string, maxTokens int, p Priority) (string, error) {
	return c.Generate(ctx, Request{Kind: KindText, Prompt: prompt, MaxTokens: maxTokens, Priority: p})
}

// Image generates an image and returns its URL.
func (c *Client) Image(ctx context.Context, prompt string, p Priority) (string, error) {
	return c.Generate(ctx, Request{Kind: KindImage, Prompt: prompt, Priority: p})
}

// Generate serves req from the cache or the provider. Failures are returned
// as *GenerationError.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	key := CacheKey(req.Kind, req.Prompt)
	if payload, ok := c.lookup(ctx, key); ok {
		return payload, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if payload, ok := c.lookup(ctx, key); ok {
			return payload, nil
		}
		payload, err := c.callWithRetry(ctx, req)
		if err != nil {
			return "", err
		}
		c.store(ctx, key, payload)
		return payload, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) lookup(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	b, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("Generation cache read failed", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	c.cacheHits.Add(1)
	return string(b), true
}

func (c *Client) store(ctx context.Context, key, payload string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, []byte(payload)); err != nil {
		c.log.Warn("Generation cache write failed", "error", err)
	}
}

func (c *Client) callWithRetry(ctx context.Context, req Request) (string, error) {
	var lastErr error
	attempt := 0
	for attempt < c.cfg.Attempts {
		attempt++
		payload, err := c.callOnce(ctx, req)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil || attempt == c.cfg.Attempts {
			break
		}

		delay := retryDelay(c.cfg.RetryDelay, attempt)
		c.log.Warn("Generation attempt failed, retrying",
			"kind", req.Kind,
			"attempt", attempt,
			"max_attempts", c.cfg.Attempts,
			"delay", delay,
			"error", err)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	c.failures.Add(1)
	return "", &GenerationError{Kind: req.Kind, Attempts: attempt, Err: lastErr}
}

func (c *Client) callOnce(ctx context.Context, req Request) (string, error) {
	release, err := c.gate.Acquire(ctx, req.Priority)
	if err != nil {
		return "", fmt.Errorf("wait for admission: %w", err)
	}
	defer release()

	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.providerCalls.Add(1)
	var payload string
	switch req.Kind {
	case KindText:
		payload, err = c.provider.GenerateText(attemptCtx, req.Prompt, req.MaxTokens)
	case KindImage:
		payload, err = c.provider.GenerateImage(attemptCtx, req.Prompt)
	default:
		return "", FatalError(req.Kind, 0, fmt.Errorf("unknown request kind %q", req.Kind))
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", TransientError(req.Kind, 0, fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, err))
		}
		return "", err
	}
	if payload == "" {
		return "", TransientError(req.Kind, 0, errors.New("empty response"))
	}
	return payload, nil
}

// SweepCache drops expired cache entries.
func (c *Client) SweepCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.Sweep(ctx)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		ProviderCalls: c.providerCalls.Load(),
		CacheHits:     c.cacheHits.Load(),
		Failures:      c.failures.Load(),
		InFlight:      c.gate.InFlight(),
		Waiting:       c.gate.Waiting(),
		MaxConcurrent: c.gate.Limit(),
	}
}
