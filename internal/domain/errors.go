package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network failures and timeouts on adapter calls.
	ErrTransient = errors.New("transient external failure")
	// ErrMalformedResponse marks structured payloads that could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrStructuralDrift marks checkpoints whose shape no longer matches the session model.
	ErrStructuralDrift = errors.New("structural drift")
	// ErrUserCancelled is the cancellation cause attached when the operator cancels a session.
	ErrUserCancelled = errors.New("cancelled by user")
	// ErrConfiguration marks missing credentials or identity required at startup.
	ErrConfiguration = errors.New("configuration failure")
	// ErrNotFound is returned by stores when nothing matches.
	ErrNotFound = errors.New("not found")
)

// Transient wraps err as a recoverable external failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Malformed wraps err as a structured-payload parse failure.
func Malformed(op string, err error) error {
	if err == nil {
		err = errors.New("empty payload")
	}
	return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
}

// Recoverable reports whether err is handled by a stage fallback.
// Malformed responses are treated exactly like transient failures.
func Recoverable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// CancelledByUser reports whether ctx was cancelled because the operator asked for it.
func CancelledByUser(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrUserCancelled)
}
