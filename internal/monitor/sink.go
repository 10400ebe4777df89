package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/setevik/eventwatch/internal/event"
)

const (
	defaultSeenSize  = 4096
	notifyTimeout    = 20 * time.Second
	noticeTimeLayout = "2006-01-02 15:04:05 MST"
)

// Notifier forwards a matched record to an operator-facing channel.
type Notifier interface {
	Notify(ctx context.Context, r event.Record) error
}

// AlertSink collects records delivered to subscriptions started without a
// callback. It is safe for concurrent use.
type AlertSink struct {
	mu     sync.Mutex
	events []event.Record
	seen   *lru.Cache[string, struct{}]

	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
	wg       sync.WaitGroup
}

// SinkOption configures an AlertSink.
type SinkOption func(*AlertSink)

// WithNotifier forwards every appended record to n.
func WithNotifier(n Notifier) SinkOption {
	return func(s *AlertSink) { s.notifier = n }
}

// WithSinkLogger sets the logger notices are written to.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *AlertSink) { s.logger = l }
}

// NewAlertSink creates an empty sink.
func NewAlertSink(opts ...SinkOption) *AlertSink {
	seen, _ := lru.New[string, struct{}](defaultSeenSize)
	s := &AlertSink{
		seen:   seen,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records r and emits a notice naming its host. A record already
// seen from the same host and log (same record number) is dropped; this happens
// when a host is resubscribed and the agent replays recent events.
func (s *AlertSink) Append(r event.Record) {
	s.mu.Lock()
	if r.RecordNumber != 0 {
		key := fmt.Sprintf("%s|%s|%d", r.Host, r.LogFile, r.RecordNumber)
		if s.seen.Contains(key) {
			s.mu.Unlock()
			s.logger.Debug("dropping duplicate record", "host", r.Host, "record", r.RecordNumber)
			return
		}
		s.seen.Add(key, struct{}{})
	}
	s.events = append(s.events, r)
	at := s.now()
	s.mu.Unlock()

	s.logger.Info(Notice(r, at), "code", r.EventCode, "log", r.LogFile)

	if s.notifier != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := s.notifier.Notify(ctx, r); err != nil {
				s.logger.Error("failed to send notification", "host", r.Host, "code", r.EventCode, "error", err)
			}
		}()
	}
}

// Events returns a copy of the collected records in arrival order.
func (s *AlertSink) Events() []event.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Record, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of collected records.
func (s *AlertSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Last returns the most recently appended record.
func (s *AlertSink) Last() (event.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return event.Record{}, false
	}
	return s.events[len(s.events)-1], true
}

// Flush waits for in-flight notifications to finish.
func (s *AlertSink) Flush() {
	s.wg.Wait()
}

// Notice is the one-line operator notice for a matched record.
func Notice(r event.Record, at time.Time) string {
	return fmt.Sprintf("%s event %d received from %s", at.Format(noticeTimeLayout), r.EventCode, r.Host)
}
