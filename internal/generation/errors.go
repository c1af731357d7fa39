package generation

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed matches every error returned once a request has been
// given up on.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationError reports a request that failed after all attempts.
type GenerationError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}
