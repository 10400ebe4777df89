// Package monitor keeps event-log subscriptions alive across remote hosts.
//
// A Controller subscribes each requested host through an EventSource. In
// persistent mode it also runs a reachability Watch per host; when a watched
// host goes down and comes back, the watch reports the recovery on a channel
// and the controller's Run loop replaces the stale subscription with a fresh
// one using the same filter and callback.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/metrics"
	"github.com/setevik/eventwatch/internal/query"
	"github.com/setevik/eventwatch/internal/source"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultGracePeriod  = 10 * time.Second
	DefaultRetryBackoff = 5 * time.Second
	DefaultWarnInterval = time.Minute
)

// Request describes the monitors to start.
type Request struct {
	Hosts      []string
	Query      query.Spec
	Callback   Callback // nil delivers to the controller's AlertSink
	Persistent bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink sets the sink used when a request has no callback.
func WithSink(s *AlertSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithRetryBackoff sets the delay between attempts on an unreachable host.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Controller) { c.retryBackoff = d }
}

// WithPollInterval sets how often a watch probes its host.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithGracePeriod sets how long a recovered host is left alone before it is
// resubscribed.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Controller) { c.gracePeriod = d }
}

// WithWarnInterval limits unreachable-host warnings to one per host per d.
func WithWarnInterval(d time.Duration) Option {
	return func(c *Controller) { c.warnInterval = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStateHook is called on every watch state change.
func WithStateHook(fn func(host string, s State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// task is the cancellable lifetime of one host's monitoring chain: the
// retry loop, the subscription attempt and the watch that follows it.
type task struct {
	id     uint64
	host   string
	ctx    context.Context
	cancel context.CancelFunc
}

type recovery struct {
	sub  *Subscription
	task *task
}

// Controller starts, tracks and tears down monitors.
type Controller struct {
	src      source.EventSource
	prober   source.Prober
	registry *Registry
	sink     *AlertSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	onState  func(string, State)

	pollInterval time.Duration
	gracePeriod  time.Duration
	retryBackoff time.Duration
	warnInterval time.Duration

	recovered chan recovery

	mu       sync.Mutex
	tasks    map[uint64]*task
	nextTask uint64
	warnings map[string]*rate.Limiter

	wg sync.WaitGroup
}

// New creates a controller. Run must be running for recovered hosts to be
// resubscribed.
func New(src source.EventSource, prober source.Prober, opts ...Option) *Controller {
	c := &Controller{
		src:          src,
		prober:       prober,
		registry:     NewRegistry(),
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		gracePeriod:  DefaultGracePeriod,
		retryBackoff: DefaultRetryBackoff,
		warnInterval: DefaultWarnInterval,
		recovered:    make(chan recovery),
		tasks:        make(map[uint64]*task),
		warnings:     make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = NewAlertSink(WithSinkLogger(c.logger))
	}
	return c
}

// Sink returns the sink that receives records for callback-less requests.
func (c *Controller) Sink() *AlertSink {
	return c.sink
}

// Registry returns the controller's subscription table.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Run consumes host recoveries until ctx is cancelled. Each recovery removes
// the stale subscription and starts the host again in persistent mode.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-c.recovered:
			c.resubscribe(rec)
		}
	}
}

// Wait blocks until every background retry and watch has exited. Call it
// after StopAllMonitors.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// StartMonitor subscribes every host in req independently and returns the
// subscriptions created before it returned, ordered by host.
//
// A malformed query fails the whole request before anything is created.
// Otherwise per-host failures are joined into the returned error. In
// persistent mode an unreachable host is not an error: it is retried in the
// background until it answers or monitoring is stopped.
func (c *Controller) StartMonitor(ctx context.Context, req Request) ([]*Subscription, error) {
	filter, err := query.Build(req.Query)
	if err != nil {
		return nil, err
	}

	cb := req.Callback
	if cb == nil {
		cb = c.sink.Append
	}

	var (
		mu      sync.Mutex
		created []*Subscription
		errs    []error
	)
	var g errgroup.Group
	for _, host := range req.Hosts {
		host := host
		g.Go(func() error {
			sub, err := c.startHost(ctx, host, filter, cb, req.Persistent)
			mu.Lock()
			defer mu.Unlock()
			if sub != nil {
				created = append(created, sub)
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sortSubscriptions(created)
	return created, errors.Join(errs...)
}

// StopAllMonitors cancels every retry loop and watch and unsubscribes every
// registered subscription. A failed unsubscribe does not stop the others;
// its subscription stays registered and the failure is reported in a
// *TeardownError.
func (c *Controller) StopAllMonitors() error {
	return c.stop(func(string) bool { return true })
}

// StopHost stops monitoring host.
func (c *Controller) StopHost(host string) error {
	return c.stop(func(h string) bool { return h == host })
}

// ListActiveMonitors returns a snapshot of the registered subscriptions.
func (c *Controller) ListActiveMonitors() []MonitorInfo {
	subs := c.registry.ListAll()
	out := make([]MonitorInfo, 0, len(subs))
	for _, sub := range subs {
		out = append(out, MonitorInfo{
			SubscriptionID: sub.ID,
			Host:           sub.Host,
			Filter:         sub.Filter,
			Persistent:     sub.Persistent,
			Started:        sub.Started,
			Handle:         sub.Handle,
		})
	}
	return out
}

func (c *Controller) startHost(ctx context.Context, host, filter string, cb Callback, persistent bool) (*Subscription, error) {
	t := c.newTask(host)

	actx, stop := mergeCancel(t.ctx, ctx)
	sub, err := c.attempt(actx, host, filter, cb, persistent)
	stop()

	switch {
	case err == nil:
		if persistent {
			c.goWatch(t, sub)
		} else {
			c.releaseTask(t)
		}
		return sub, nil

	case errors.Is(err, errStopped):
		c.releaseTask(t)
		return nil, ctx.Err()

	case persistent && retryable(err):
		c.logger.Info("retrying host in background", "host", host, "backoff", c.retryBackoff, "error", err)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if sleep(t.ctx, c.retryBackoff) {
				c.persist(t, filter, cb)
			}
		}()
		return nil, nil

	default:
		c.releaseTask(t)
		return nil, err
	}
}

// persist retries a host until it is subscribed or its task is cancelled,
// then watches it.
func (c *Controller) persist(t *task, filter string, cb Callback) {
	for {
		sub, err := c.attempt(t.ctx, t.host, filter, cb, true)
		if err == nil {
			c.watch(t, sub)
			return
		}
		if errors.Is(err, errStopped) {
			return
		}
		if !retryable(err) {
			c.logger.Error("giving up on host", "host", t.host, "error", err)
			c.releaseTask(t)
			return
		}
		c.logger.Debug("host not subscribed, will retry", "host", t.host, "backoff", c.retryBackoff, "error", err)
		if !sleep(t.ctx, c.retryBackoff) {
			return
		}
	}
}

// attempt probes host and subscribes it. ctx is cancelled when monitoring
// for the host is stopped; the registry is only updated while it is live.
func (c *Controller) attempt(ctx context.Context, host, filter string, cb Callback, persistent bool) (*Subscription, error) {
	if !c.prober.Probe(ctx, host) {
		if ctx.Err() != nil {
			return nil, errStopped
		}
		c.metrics.IncProbeFailure(host)
		c.warnUnreachable(host)
		return nil, fmt.Errorf("%w: %s", ErrHostUnreachable, host)
	}

	if dup, ok := c.registry.Find(host, filter); ok {
		return nil, fmt.Errorf("%w: %s already watched by %s", ErrDuplicate, host, dup.ID)
	}

	id, gen := c.registry.NextID(host)
	sub := &Subscription{
		ID:         id,
		Host:       host,
		Filter:     filter,
		Persistent: persistent,
		Generation: gen,
		Started:    time.Now(),
		callback:   cb,
	}

	h, err := c.src.Subscribe(ctx, host, filter, c.deliver(cb))
	if err != nil {
		if ctx.Err() != nil {
			return nil, errStopped
		}
		c.metrics.IncSubscribeError()
		if !errors.Is(err, source.ErrSubscriptionFailed) {
			err = fmt.Errorf("%w: %s: %w", source.ErrSubscriptionFailed, host, err)
		}
		c.logger.Warn("subscription failed", "host", host, "error", err)
		return nil, err
	}
	sub.Handle = h

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		c.discard(h)
		return nil, errStopped
	}
	err = c.registry.Add(sub)
	c.mu.Unlock()
	if err != nil {
		c.discard(h)
		return nil, err
	}

	c.metrics.SetActiveSubscriptions(c.registry.Len())
	c.logger.Info("subscribed", "host", host, "subscription", sub.ID, "persistent", persistent)
	return sub, nil
}

func (c *Controller) deliver(cb Callback) func(event.Record) {
	return func(r event.Record) {
		c.metrics.IncEventsReceived()
		cb(r)
	}
}

func (c *Controller) goWatch(t *task, sub *Subscription) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watch(t, sub)
	}()
}

// watch runs the reachability watch for sub and hands a recovered host to
// Run. Cancellation of t ends it without a recovery.
func (c *Controller) watch(t *task, sub *Subscription) {
	w := &Watch{
		Host:         sub.Host,
		Prober:       c.prober,
		PollInterval: c.pollInterval,
		GracePeriod:  c.gracePeriod,
		OnState: func(s State) {
			c.metrics.SetWatchState(sub.Host, int(s))
			if s != StateActive {
				c.logger.Debug("watch state", "host", sub.Host, "subscription", sub.ID, "state", s)
			}
			if c.onState != nil {
				c.onState(sub.Host, s)
			}
		},
	}
	if !w.Run(t.ctx) {
		return
	}

	select {
	case c.recovered <- recovery{sub: sub, task: t}:
	case <-t.ctx.Done():
	}
}

// resubscribe replaces the stale subscription of a recovered host. It is
// only called from Run.
func (c *Controller) resubscribe(rec recovery) {
	c.mu.Lock()
	if rec.task.ctx.Err() != nil {
		// Stopped after the watch finished.
		c.mu.Unlock()
		return
	}
	c.releaseTaskLocked(rec.task)
	stale, _ := c.registry.Remove(rec.sub.ID)
	t := c.newTaskLocked(rec.sub.Host)
	c.mu.Unlock()

	if stale != nil {
		c.discard(stale.Handle)
	}
	c.metrics.IncResubscription(rec.sub.Host)
	c.metrics.SetActiveSubscriptions(c.registry.Len())
	c.logger.Info("host recovered, resubscribing", "host", rec.sub.Host, "stale", rec.sub.ID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.persist(t, rec.sub.Filter, rec.sub.callback)
	}()
}

func (c *Controller) stop(match func(host string) bool) error {
	c.mu.Lock()
	for id, t := range c.tasks {
		if match(t.host) {
			t.cancel()
			delete(c.tasks, id)
		}
	}
	var subs []*Subscription
	for _, sub := range c.registry.ListAll() {
		if match(sub.Host) {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	failures := make(map[string]error)
	for _, sub := range subs {
		if err := c.src.Unsubscribe(sub.Handle); err != nil {
			c.logger.Warn("failed to unsubscribe", "host", sub.Host, "subscription", sub.ID, "error", err)
			failures[sub.ID] = err
			continue
		}
		c.registry.Remove(sub.ID)
		c.metrics.ForgetHost(sub.Host)
		c.logger.Info("unsubscribed", "host", sub.Host, "subscription", sub.ID)
	}
	c.metrics.SetActiveSubscriptions(c.registry.Len())

	if len(failures) > 0 {
		return &TeardownError{Failures: failures}
	}
	return nil
}

// discard cancels a subscription that never made it into, or was already
// taken out of, the registry.
func (c *Controller) discard(h source.Handle) {
	if err := c.src.Unsubscribe(h); err != nil {
		c.logger.Debug("failed to discard subscription", "handle", h.ID(), "error", err)
	}
}

func (c *Controller) warnUnreachable(host string) {
	c.mu.Lock()
	lim, ok := c.warnings[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.warnInterval), 1)
		c.warnings[host] = lim
	}
	c.mu.Unlock()

	if lim.Allow() {
		c.logger.Warn("host unreachable", "host", host)
	} else {
		c.logger.Debug("host unreachable", "host", host)
	}
}

func (c *Controller) newTask(host string) *task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newTaskLocked(host)
}

func (c *Controller) newTaskLocked(host string) *task {
	c.nextTask++
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{id: c.nextTask, host: host, ctx: ctx, cancel: cancel}
	c.tasks[t.id] = t
	return t
}

func (c *Controller) releaseTask(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseTaskLocked(t)
}

func (c *Controller) releaseTaskLocked(t *task) {
	t.cancel()
	delete(c.tasks, t.id)
}

// retryable reports whether a persistent monitor should keep trying after err.
func retryable(err error) bool {
	return errors.Is(err, ErrHostUnreachable) || errors.Is(err, source.ErrSubscriptionFailed)
}

// mergeCancel returns a child of parent that is also cancelled when other is.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stopAfter := context.AfterFunc(other, func() {
		cancel(context.Cause(other))
	})
	return ctx, func() {
		stopAfter()
		cancel(context.Canceled)
	}
}
