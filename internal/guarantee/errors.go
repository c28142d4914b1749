// internal/guarantee/errors.go
package guarantee

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConcurrencyConflict is returned when the stored guarantee changed between
// load and save.
var ErrConcurrencyConflict = errors.New("guarantee was modified concurrently")

// ErrNumbersExhausted is returned when a month has used every six-digit
// guarantee number.
var ErrNumbersExhausted = errors.New("guarantee numbers exhausted for the month")

// IllegalTransitionError reports a status change the lifecycle does not allow.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// BankUnavailableError reports a bank id that does not resolve to an active
// bank profile. It never wraps a ValidationError.
type BankUnavailableError struct {
	BankID uuid.UUID
	Reason string
}

func (e *BankUnavailableError) Error() string {
	return fmt.Sprintf("bank %s is unavailable: %s", e.BankID, e.Reason)
}

// ListenerError wraps a failure raised by an event listener. It is logged by
// the dispatcher and never returned to callers of the service.
type ListenerError struct {
	EventType string
	Err       error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener failed on %s: %v", e.EventType, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
