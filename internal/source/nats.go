package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/setevik/eventwatch/internal/event"
)

const (
	DefaultSubjectPrefix  = "eventlog"
	defaultRequestTimeout = 10 * time.Second
)

// conn is the subset of *nats.Conn used here.
type conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Subscribe(subj string, cb nats.MsgHandler) (unsubscriber, error)
	Publish(subj string, data []byte) error
}

type unsubscriber interface {
	Unsubscribe() error
}

type natsConn struct {
	nc *nats.Conn
}

func (c natsConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	return c.nc.RequestWithContext(ctx, subj, data)
}

func (c natsConn) Subscribe(subj string, cb nats.MsgHandler) (unsubscriber, error) {
	sub, err := c.nc.Subscribe(subj, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c natsConn) Publish(subj string, data []byte) error {
	return c.nc.Publish(subj, data)
}

// NATSSource subscribes to remote event logs through collector agents
// reachable over NATS. Each agent serves:
//
//	<prefix>.<host>.subscribe    request {filter, deliver}, reply {error}
//	<prefix>.<host>.unsubscribe  publish {deliver}
//	<prefix>.<host>.ping         request, any reply
//
// Matching records are published to the deliver subject, JSON encoded and
// optionally zstd compressed (Content-Encoding header).
type NATSSource struct {
	conn    conn
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NATSOption configures a NATSSource or NATSProber.
type NATSOption func(*natsSettings)

type natsSettings struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// WithSubjectPrefix sets the subject prefix agents listen on.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(s *natsSettings) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRequestTimeout bounds subscribe and ping requests.
func WithRequestTimeout(d time.Duration) NATSOption {
	return func(s *natsSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) NATSOption {
	return func(s *natsSettings) {
		if l != nil {
			s.logger = l
		}
	}
}

func applyNATSOptions(opts []NATSOption) natsSettings {
	s := natsSettings{
		prefix:  DefaultSubjectPrefix,
		timeout: defaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewNATSSource creates an event source on an established connection.
func NewNATSSource(nc *nats.Conn, opts ...NATSOption) *NATSSource {
	return newNATSSource(natsConn{nc: nc}, opts...)
}

func newNATSSource(c conn, opts ...NATSOption) *NATSSource {
	s := applyNATSOptions(opts)
	return &NATSSource{
		conn:    c,
		prefix:  s.prefix,
		timeout: s.timeout,
		logger:  s.logger,
	}
}

type subscribeRequest struct {
	Filter  string `json:"filter"`
	Deliver string `json:"deliver"`
}

type unsubscribeRequest struct {
	Deliver string `json:"deliver"`
}

type subscribeReply struct {
	Error string `json:"error,omitempty"`
}

type natsHandle struct {
	deliver string
	host    string
	sub     unsubscriber
}

func (h *natsHandle) ID() string { return h.deliver }

// Subscribe asks the agent for host to start pushing records matching
// filter, and delivers them to onMatch.
func (s *NATSSource) Subscribe(ctx context.Context, host, filter string, onMatch func(event.Record)) (Handle, error) {
	deliver := subject(s.prefix, host, "deliver."+uuid.NewString())

	// Listen before asking, so records pushed ahead of the reply are kept.
	sub, err := s.conn.Subscribe(deliver, func(msg *nats.Msg) {
		rec, err := DecodeRecord(msg.Data, msg.Header.Get("Content-Encoding"))
		if err != nil {
			s.logger.Debug("skipping undecodable record", "host", host, "error", err)
			return
		}
		rec.Host = host
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		onMatch(rec)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listening on %s: %v", ErrSubscriptionFailed, deliver, err)
	}

	req, err := json.Marshal(subscribeRequest{Filter: filter, Deliver: deliver})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("encoding subscribe request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.conn.RequestWithContext(ctx, subject(s.prefix, host, "subscribe"), req)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %s: %v", ErrSubscriptionFailed, host, err)
	}

	var reply subscribeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %s: bad reply: %v", ErrSubscriptionFailed, host, err)
	}
	if reply.Error != "" {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %s: %s", ErrSubscriptionFailed, host, reply.Error)
	}

	s.logger.Debug("subscription registered", "host", host, "deliver", deliver)
	return &natsHandle{deliver: deliver, host: host, sub: sub}, nil
}

// Unsubscribe tells the agent to stop pushing and drops the local listener.
func (s *NATSSource) Unsubscribe(h Handle) error {
	nh, ok := h.(*natsHandle)
	if !ok || nh == nil {
		return fmt.Errorf("unsubscribe: handle %T was not created by this source", h)
	}

	var errs []error
	req, _ := json.Marshal(unsubscribeRequest{Deliver: nh.deliver})
	if err := s.conn.Publish(subject(s.prefix, nh.host, "unsubscribe"), req); err != nil {
		errs = append(errs, fmt.Errorf("notifying %s: %w", nh.host, err))
	}
	if err := nh.sub.Unsubscribe(); err != nil {
		errs = append(errs, fmt.Errorf("dropping listener %s: %w", nh.deliver, err))
	}
	return errors.Join(errs...)
}

// NATSProber pings the agent for a host.
type NATSProber struct {
	conn    conn
	prefix  string
	timeout time.Duration
}

// NewNATSProber creates a prober on an established connection.
func NewNATSProber(nc *nats.Conn, opts ...NATSOption) *NATSProber {
	return newNATSProber(natsConn{nc: nc}, opts...)
}

func newNATSProber(c conn, opts ...NATSOption) *NATSProber {
	s := applyNATSOptions(opts)
	return &NATSProber{conn: c, prefix: s.prefix, timeout: s.timeout}
}

func (p *NATSProber) Probe(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.conn.RequestWithContext(ctx, subject(p.prefix, host, "ping"), nil)
	return err == nil
}

// subject builds "<prefix>.<host>.<suffix>". Bytes that would split or
// widen the subject are written as "_XX" (hex), and so is '_' itself, so
// distinct hosts never share a token.
func subject(prefix, host, suffix string) string {
	return prefix + "." + hostToken(host) + "." + suffix
}

func hostToken(host string) string {
	var b strings.Builder
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c == '.', c == '*', c == '>', c == '_', c <= ' ', c >= 0x7f:
			fmt.Fprintf(&b, "_%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
