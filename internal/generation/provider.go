// Package generation wraps the text and image providers with caching,
// retries, per-call timeouts and a process-wide admission gate.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind selects the provider capability.
type Kind string

// Request kinds.
const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Provider is the external generation service.
type Provider interface {
	// GenerateText returns the completion for prompt.
	GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error)
	// GenerateImage returns a URL of the generated image.
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ProviderError is a classified provider failure. Retryable errors are
// timeouts, throttling and server-side failures; everything else is fatal.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	class := "fatal"
	if e.Retryable {
		class = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s provider error (status %d): %v", class, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s provider error: %v", class, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransientError marks err as retryable.
func TransientError(kind Kind, status int, err error) *ProviderError {
	return &ProviderError{Kind: kind, StatusCode: status, Retryable: true, Err: err}
}

// FatalError marks err as not retryable.
func FatalError(kind Kind, status int, err error) *ProviderError {
	return &ProviderError{Kind: kind, StatusCode: status, Retryable: false, Err: err}
}

// IsTransient reports whether err is worth another attempt. Cancellation of
// the caller's context never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryableStatus reports whether an HTTP status is a transient failure.
func RetryableStatus(status int) bool {
	switch {
	case status == 408, status == 409, status == 425, status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
