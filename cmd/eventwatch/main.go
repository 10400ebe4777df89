// eventwatch subscribes to Windows event logs on remote hosts through
// collector agents on a NATS bus, keeps the subscriptions alive across host
// reboots, and reports matching events via slog, ntfy and an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/setevik/eventwatch/internal/api"
	"github.com/setevik/eventwatch/internal/config"
	"github.com/setevik/eventwatch/internal/metrics"
	"github.com/setevik/eventwatch/internal/monitor"
	"github.com/setevik/eventwatch/internal/query"
	"github.com/setevik/eventwatch/internal/reporter"
	"github.com/setevik/eventwatch/internal/source"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "watch":
			runWatch(os.Args[2:])
			return
		case "query":
			runQuery(os.Args[2:])
			return
		case "decode":
			runDecode(os.Args[2:])
			return
		case "list":
			runList(os.Args[2:])
			return
		case "test-ntfy":
			runTestNtfy(os.Args[2:])
			return
		case "version":
			fmt.Println("eventwatch", version)
			return
		}
	}

	// Default: watch.
	runWatch(os.Args[1:])
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (.toml, .yaml)")
	listen := fs.String("listen", "", "HTTP API listen address (overrides api.listen)")
	mf := registerMonitorFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := mf.apply(fs, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	setupLogging(cfg.Log.Level)

	slog.Info("eventwatch starting",
		"version", version,
		"hosts", len(cfg.Monitor.Hosts),
		"persistent", cfg.Monitor.Persistent,
		"probe", cfg.Probe.Mode,
	)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	spec, err := monitorSpec(cfg.Monitor)
	if err != nil {
		return err
	}
	// Surface a bad filter before connecting to anything.
	if _, err := query.Build(spec); err != nil {
		return err
	}
	if len(cfg.Monitor.Hosts) == 0 {
		return errors.New("no hosts to monitor (set monitor.hosts or -hosts)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := connectNATS(cfg.NATS)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	slog.Info("connected to NATS", "url", nc.ConnectedUrl())

	natsOpts := []source.NATSOption{
		source.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
		source.WithRequestTimeout(cfg.NATS.RequestTimeout.Duration),
	}
	src := source.NewNATSSource(nc, natsOpts...)
	prober := newProber(cfg, nc)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var (
		sinkOpts []monitor.SinkOption
		notifier *reporter.NtfyNotifier
	)
	if cfg.Ntfy.URL != "" {
		notifier = reporter.NewNtfy(cfg)
		sinkOpts = append(sinkOpts, monitor.WithNotifier(notifier))
		slog.Info("ntfy notifications enabled", "alert_codes", cfg.Ntfy.AlertCodes)
	}
	sink := monitor.NewAlertSink(sinkOpts...)

	ctrl := monitor.New(src, prober,
		monitor.WithSink(sink),
		monitor.WithMetrics(m),
		monitor.WithPollInterval(cfg.Monitor.PollInterval.Duration),
		monitor.WithGracePeriod(cfg.Monitor.GracePeriod.Duration),
		monitor.WithRetryBackoff(cfg.Monitor.RetryBackoff.Duration),
		monitor.WithWarnInterval(cfg.Monitor.WarnInterval.Duration),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Run(gctx)
		return nil
	})

	if cfg.API.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           api.NewServer(ctrl, sink, reg, slog.Default()).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("API listening", "addr", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	started := time.Now()
	subs, err := ctrl.StartMonitor(gctx, monitor.Request{
		Hosts:      cfg.Monitor.Hosts,
		Query:      spec,
		Persistent: cfg.Monitor.Persistent,
	})
	for _, sub := range subs {
		slog.Info("monitor started", "host", sub.Host, "subscription", sub.ID)
	}
	if err != nil {
		slog.Warn("some monitors did not start", "error", err)
	}

	// Notify systemd we are ready (sd_notify).
	sdNotify("READY=1")

	var watchdogCh <-chan time.Time
	if wdInterval := watchdogInterval(); wdInterval > 0 {
		// Ping at half the watchdog interval.
		ticker := time.NewTicker(wdInterval / 2)
		defer ticker.Stop()
		watchdogCh = ticker.C
		slog.Info("systemd watchdog enabled", "interval", wdInterval)
	}

	slog.Info("watching for events")

loop:
	for {
		select {
		case <-watchdogCh:
			sdNotify("WATCHDOG=1")
		case <-gctx.Done():
			break loop
		}
	}

	slog.Info("shutting down")
	sdNotify("STOPPING=1")

	if err := ctrl.StopAllMonitors(); err != nil {
		slog.Warn("teardown incomplete", "error", err)
	}
	ctrl.Wait()
	sink.Flush()

	if sink.Len() > 0 {
		digest := reporter.BuildDigest(sink.Events(), started, time.Now())
		fmt.Fprint(os.Stderr, reporter.FormatDigest(digest))
		if notifier != nil {
			sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := notifier.SendDigest(sendCtx, digest); err != nil {
				slog.Warn("failed to send digest", "error", err)
			}
			cancel()
		}
	}

	return g.Wait()
}

func connectNATS(c config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if c.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(c.CredsFile))
	}
	return nats.Connect(c.URL, opts...)
}

func newProber(cfg *config.Config, nc *nats.Conn) source.Prober {
	if cfg.Probe.Mode == "tcp" {
		return source.TCPProber{Port: cfg.Probe.Port, Timeout: cfg.Probe.Timeout.Duration}
	}
	return source.NewNATSProber(nc,
		source.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
		source.WithRequestTimeout(cfg.Probe.Timeout.Duration),
	)
}

// --- monitor flags ---

// stringList collects repeated string flags.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type monitorFlags struct {
	hosts      stringList
	ids        stringList
	severities stringList
	logName    *string
	rawQuery   *string
	persistent *bool
}

func registerMonitorFlags(fs *flag.FlagSet) *monitorFlags {
	mf := &monitorFlags{}
	fs.Var(&mf.hosts, "hosts", "hosts to monitor (comma-separated, repeatable)")
	fs.Var(&mf.ids, "ids", "event IDs to match (comma-separated, repeatable)")
	fs.Var(&mf.severities, "severities", "severities to match: error, warning, information, audit-success, audit-failure")
	mf.logName = fs.String("log", "", "event log name (e.g. Security)")
	mf.rawQuery = fs.String("query", "", "raw WQL filter; overrides -ids, -severities and -log")
	mf.persistent = fs.Bool("persistent", true, "resubscribe automatically after a host reboots")
	return mf
}

// apply overrides cfg with the flags that were set on the command line.
func (mf *monitorFlags) apply(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hosts":
			cfg.Monitor.Hosts = splitList(mf.hosts)
		case "ids":
			var ids []int
			if ids, err = query.ParseEventIDs(mf.ids); err == nil {
				cfg.Monitor.EventIDs = ids
			}
		case "severities":
			cfg.Monitor.Severities = splitList(mf.severities)
		case "log":
			cfg.Monitor.LogName = *mf.logName
		case "query":
			cfg.Monitor.Query = *mf.rawQuery
		case "persistent":
			cfg.Monitor.Persistent = *mf.persistent
		}
	})
	return err
}

// monitorSpec resolves the configured filter fields into a query spec.
func monitorSpec(mc config.MonitorConfig) (query.Spec, error) {
	sevs, err := query.ParseSeverities(mc.Severities)
	if err != nil {
		return query.Spec{}, fmt.Errorf("%w: %v", query.ErrMalformedFilter, err)
	}
	return query.Spec{
		Raw:        mc.Query,
		EventIDs:   mc.EventIDs,
		Severities: sevs,
		LogName:    mc.LogName,
	}, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// --- sd_notify support ---

// sdNotify sends a notification to systemd via the NOTIFY_SOCKET.
func sdNotify(state string) {
	socketAddr := os.Getenv("NOTIFY_SOCKET")
	if socketAddr == "" {
		return
	}

	conn, err := net.Dial("unixgram", socketAddr)
	if err != nil {
		slog.Debug("sd_notify: failed to connect", "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		slog.Debug("sd_notify: failed to send", "error", err)
	}
}

// watchdogInterval reads WATCHDOG_USEC from the environment. Returns 0 if
// not set.
func watchdogInterval() time.Duration {
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return 0
	}
	var usec int64
	if _, err := fmt.Sscanf(usecStr, "%d", &usec); err != nil {
		return 0
	}
	return time.Duration(usec) * time.Microsecond
}

// --- utilities ---

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
