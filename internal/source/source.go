// Package source provides the remote event sources and reachability probes
// that monitors subscribe through.
package source

import (
	"context"
	"errors"

	"github.com/setevik/eventwatch/internal/event"
)

// ErrSubscriptionFailed is returned when a host rejects or cannot accept a
// subscription.
var ErrSubscriptionFailed = errors.New("subscription failed")

// Handle identifies a registered subscription for later cancellation.
type Handle interface {
	ID() string
}

// EventSource is the interface for registering push-based event watches.
// Implementations include the NATS transport and test mocks.
type EventSource interface {
	// Subscribe registers a watch for records matching filter on host.
	// onMatch is invoked asynchronously for every matching record.
	Subscribe(ctx context.Context, host, filter string, onMatch func(event.Record)) (Handle, error)

	// Unsubscribe cancels a watch created by Subscribe.
	Unsubscribe(h Handle) error
}

// Prober checks whether a host is reachable. Implementations make a single
// attempt bounded by a timeout, and report any error as unreachable.
type Prober interface {
	Probe(ctx context.Context, host string) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, host string) bool

func (f ProberFunc) Probe(ctx context.Context, host string) bool {
	return f(ctx, host)
}
