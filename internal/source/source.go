// Package source defines the capability interface the pipeline needs from
// a mail source. The core never assumes a specific mail client; a test
// double can implement Source with an in-memory list.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/incident-reporter/internal/model"
)

// Source is the contract every mail-source integration must implement.
type Source interface {
	// Messages enumerates messages received since the given instant, in
	// the order the source reports them (typically received-time order).
	// A zero since returns everything currently available.
	Messages(ctx context.Context, since time.Time) ([]model.InboundMessage, error)

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}

// UnavailableError indicates the mail source is unreachable or timed out.
// It is a recoverable condition: the coordinator retries with backoff
// rather than aborting.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("mail source unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err (or any error in its chain) is an
// UnavailableError.
func IsUnavailable(err error) bool {
	var unavailErr *UnavailableError
	return errors.As(err, &unavailErr)
}

// AuthError indicates that authentication has failed for the source.
// Unlike UnavailableError it is not retried; operator action is required.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
