package monitor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrHostUnreachable is reported when the reachability probe fails.
	ErrHostUnreachable = errors.New("host unreachable")

	// ErrDuplicate is returned when a subscription is already registered.
	ErrDuplicate = errors.New("duplicate subscription")

	// errStopped marks an attempt abandoned because monitoring was stopped.
	errStopped = errors.New("monitoring stopped")
)

// TeardownError lists the subscriptions that could not be cancelled.
type TeardownError struct {
	Failures map[string]error // keyed by subscription ID
}

func (e *TeardownError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id, err := range e.Failures {
		ids = append(ids, fmt.Sprintf("%s: %v", id, err))
	}
	sort.Strings(ids)
	return fmt.Sprintf("teardown failed for %d subscription(s): %s", len(e.Failures), strings.Join(ids, "; "))
}

// Unwrap lets errors.Is and errors.As see the individual failures.
func (e *TeardownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
