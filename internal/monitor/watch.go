package monitor

import (
	"context"
	"time"

	"github.com/setevik/eventwatch/internal/source"
)

// State is the position of a reachability watch in its lifecycle.
type State int

const (
	StateActive State = iota
	StateUnreachable
	StateRecoveringGrace
	StateDone
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateUnreachable:
		return "unreachable"
	case StateRecoveringGrace:
		return "recovering-grace"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Watch polls a host while its subscription is live and reports when the
// host has gone away and come back, so the subscription can be rebuilt.
type Watch struct {
	Host         string
	Prober       source.Prober
	PollInterval time.Duration
	GracePeriod  time.Duration

	// OnState, if set, is called with the initial state and again after
	// every step.
	OnState func(State)
}

// Run drives the watch until it reaches StateDone or ctx is cancelled.
// It reports whether Done was reached.
func (w *Watch) Run(ctx context.Context) bool {
	state := StateActive
	w.report(state)

	for {
		switch state {
		case StateActive, StateUnreachable:
			if !sleep(ctx, w.PollInterval) {
				return false
			}
			up := w.Prober.Probe(ctx, w.Host)
			if ctx.Err() != nil {
				return false
			}
			if state == StateActive && !up {
				state = StateUnreachable
			} else if state == StateUnreachable && up {
				state = StateRecoveringGrace
			}
		case StateRecoveringGrace:
			if !sleep(ctx, w.GracePeriod) {
				return false
			}
			state = StateDone
		case StateDone:
			return true
		}
		w.report(state)
	}
}

func (w *Watch) report(s State) {
	if w.OnState != nil {
		w.OnState(s)
	}
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
