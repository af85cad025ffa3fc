package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyOutputs means the workflow succeeded but one of the two risk
	// outputs was missing or empty. Retryable.
	ErrEmptyOutputs = errors.New("classification outputs are empty")

	// ErrRetriesExhausted is returned once every attempt produced a
	// retryable failure.
	ErrRetriesExhausted = errors.New("classification retries exhausted")
)

// UpstreamError is a hard failure talking to the identity or classification
// service. It is never retried.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s service returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// OutputParseError means a risk output was present but not valid JSON. Retryable.
type OutputParseError struct {
	Output string
	Err    error
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("failed to parse %q output: %v", e.Output, e.Err)
}

func (e *OutputParseError) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	var parseErr *OutputParseError
	return errors.Is(err, ErrEmptyOutputs) || errors.As(err, &parseErr)
}
