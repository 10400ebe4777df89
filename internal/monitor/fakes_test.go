package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/source"
)

var errUnsubscribe = errors.New("unsubscribe refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct{ id string }

func (h fakeHandle) ID() string { return h.id }

type fakeWatch struct {
	host    string
	filter  string
	onMatch func(event.Record)
}

// fakeSource is an in-memory EventSource.
type fakeSource struct {
	mu           sync.Mutex
	n            int
	live         map[string]fakeWatch
	subscribes   int
	unsubscribed []string
	reject       map[string]bool
	failUnsub    map[string]bool

	// onSubscribe runs after a successful Subscribe, before it returns.
	onSubscribe func(host string, onMatch func(event.Record))
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		live:      make(map[string]fakeWatch),
		reject:    make(map[string]bool),
		failUnsub: make(map[string]bool),
	}
}

func (s *fakeSource) Subscribe(ctx context.Context, host, filter string, onMatch func(event.Record)) (source.Handle, error) {
	s.mu.Lock()
	s.subscribes++
	if s.reject[host] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: access denied", source.ErrSubscriptionFailed)
	}
	s.n++
	h := fakeHandle{id: fmt.Sprintf("h%d", s.n)}
	s.live[h.id] = fakeWatch{host: host, filter: filter, onMatch: onMatch}
	hook := s.onSubscribe
	s.mu.Unlock()

	if hook != nil {
		hook(host, onMatch)
	}
	return h, nil
}

func (s *fakeSource) Unsubscribe(h source.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.live[h.ID()]
	if !ok {
		return fmt.Errorf("unknown handle %s", h.ID())
	}
	if s.failUnsub[w.host] {
		return errUnsubscribe
	}
	delete(s.live, h.ID())
	s.unsubscribed = append(s.unsubscribed, h.ID())
	return nil
}

// deliver pushes r to every live watch on host.
func (s *fakeSource) deliver(host string, r event.Record) {
	s.mu.Lock()
	var targets []func(event.Record)
	for _, w := range s.live {
		if w.host == host {
			targets = append(targets, w.onMatch)
		}
	}
	s.mu.Unlock()
	for _, fn := range targets {
		fn(r)
	}
}

func (s *fakeSource) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func (s *fakeSource) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *fakeSource) wasUnsubscribed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.unsubscribed {
		if u == id {
			return true
		}
	}
	return false
}

// scriptedProber answers each host from a queue, then from fallback.
type scriptedProber struct {
	mu       sync.Mutex
	script   map[string][]bool
	fallback bool
	calls    map[string]int
}

func newScriptedProber(fallback bool) *scriptedProber {
	return &scriptedProber{
		script:   make(map[string][]bool),
		fallback: fallback,
		calls:    make(map[string]int),
	}
}

func (p *scriptedProber) queue(host string, results ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[host] = append(p.script[host], results...)
}

func (p *scriptedProber) Probe(_ context.Context, host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[host]++
	if seq := p.script[host]; len(seq) > 0 {
		p.script[host] = seq[1:]
		return seq[0]
	}
	return p.fallback
}

func (p *scriptedProber) callCount(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[host]
}
