package source

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setevik/eventwatch/internal/event"
)

type fakeSub struct {
	conn    *fakeConn
	subject string
	err     error
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers, s.subject)
	return s.err
}

// fakeConn records requests and publishes and lets tests push messages to
// subscribed subjects.
type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]nats.MsgHandler
	requests  map[string][]byte
	published map[string][]byte
	reply     func(subj string) (*nats.Msg, error)
}

func newFakeConn(reply func(subj string) (*nats.Msg, error)) *fakeConn {
	return &fakeConn{
		handlers:  make(map[string]nats.MsgHandler),
		requests:  make(map[string][]byte),
		published: make(map[string][]byte),
		reply:     reply,
	}
}

func (c *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	c.mu.Lock()
	c.requests[subj] = data
	c.mu.Unlock()
	return c.reply(subj)
}

func (c *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (unsubscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subj] = cb
	return &fakeSub{conn: c, subject: subj}, nil
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[subj] = data
	return nil
}

func (c *fakeConn) deliver(subj string, msg *nats.Msg) {
	c.mu.Lock()
	h := c.handlers[subj]
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func okReply(string) (*nats.Msg, error) {
	return &nats.Msg{Data: []byte(`{}`)}, nil
}

func TestNATSSourceSubscribeDelivers(t *testing.T) {
	fc := newFakeConn(okReply)
	src := newNATSSource(fc, WithSubjectPrefix("evl"))

	var got []event.Record
	h, err := src.Subscribe(context.Background(), "dc01.corp.example", "SELECT 1", func(r event.Record) {
		got = append(got, r)
	})
	require.NoError(t, err)
	require.NotNil(t, h)

	reqData, ok := fc.requests["evl.dc01_2Ecorp_2Eexample.subscribe"]
	require.True(t, ok, "subscribe request not sent, got %v", fc.requests)

	var req subscribeRequest
	require.NoError(t, json.Unmarshal(reqData, &req))
	assert.Equal(t, "SELECT 1", req.Filter)
	assert.Equal(t, h.ID(), req.Deliver)
	assert.True(t, strings.HasPrefix(req.Deliver, "evl.dc01_2Ecorp_2Eexample.deliver."))

	plain, err := EncodeRecord(event.Record{EventCode: 4740, RecordNumber: 7}, "")
	require.NoError(t, err)
	fc.deliver(req.Deliver, &nats.Msg{Data: plain})

	packed, err := EncodeRecord(event.Record{EventCode: 4720, RecordNumber: 8}, EncodingZstd)
	require.NoError(t, err)
	fc.deliver(req.Deliver, &nats.Msg{
		Data:   packed,
		Header: nats.Header{"Content-Encoding": []string{EncodingZstd}},
	})

	// Garbage is dropped, not delivered.
	fc.deliver(req.Deliver, &nats.Msg{Data: []byte("not json")})

	require.Len(t, got, 2)
	assert.Equal(t, uint32(4740), got[0].EventCode)
	assert.Equal(t, uint32(4720), got[1].EventCode)
	for _, r := range got {
		assert.Equal(t, "dc01.corp.example", r.Host)
		assert.NotEmpty(t, r.ID)
	}
}

func TestNATSSourceSubscribeRejected(t *testing.T) {
	fc := newFakeConn(func(string) (*nats.Msg, error) {
		return &nats.Msg{Data: []byte(`{"error":"access denied"}`)}, nil
	})
	src := newNATSSource(fc)

	h, err := src.Subscribe(context.Background(), "dc01", "SELECT 1", func(event.Record) {})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrSubscriptionFailed)
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, fc.handlers, "listener should be dropped after rejection")
}

func TestNATSSourceSubscribeNoResponder(t *testing.T) {
	fc := newFakeConn(func(string) (*nats.Msg, error) {
		return nil, nats.ErrNoResponders
	})
	src := newNATSSource(fc)

	_, err := src.Subscribe(context.Background(), "dc01", "SELECT 1", func(event.Record) {})
	assert.ErrorIs(t, err, ErrSubscriptionFailed)
	assert.Empty(t, fc.handlers)
}

func TestNATSSourceUnsubscribe(t *testing.T) {
	fc := newFakeConn(okReply)
	src := newNATSSource(fc)

	h, err := src.Subscribe(context.Background(), "dc01", "SELECT 1", func(event.Record) {})
	require.NoError(t, err)

	require.NoError(t, src.Unsubscribe(h))
	assert.Empty(t, fc.handlers)

	data, ok := fc.published["eventlog.dc01.unsubscribe"]
	require.True(t, ok)
	var req unsubscribeRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, h.ID(), req.Deliver)
}

type foreignHandle struct{}

func (foreignHandle) ID() string { return "foreign" }

func TestNATSSourceUnsubscribeForeignHandle(t *testing.T) {
	src := newNATSSource(newFakeConn(okReply))
	assert.Error(t, src.Unsubscribe(foreignHandle{}))
}

func TestNATSProber(t *testing.T) {
	reachable := map[string]bool{"eventlog.up.ping": true}
	fc := newFakeConn(func(subj string) (*nats.Msg, error) {
		if reachable[subj] {
			return &nats.Msg{}, nil
		}
		return nil, nats.ErrTimeout
	})
	p := newNATSProber(fc, WithRequestTimeout(time.Second))

	assert.True(t, p.Probe(context.Background(), "up"))
	assert.False(t, p.Probe(context.Background(), "down"))
}

func TestDecodeRecordUnsupportedEncoding(t *testing.T) {
	_, err := DecodeRecord([]byte(`{}`), "gzip")
	assert.Error(t, err)

	_, err = DecodeRecord([]byte("not zstd"), EncodingZstd)
	assert.Error(t, err)
}

func TestSubjectEncodesHost(t *testing.T) {
	assert.Equal(t, "p.a_2Eb_2Ec.ping", subject("p", "a.b.c", "ping"))
	assert.Equal(t, "p.x_2A_3E.ping", subject("p", "x*>", "ping"))
	assert.Equal(t, "p.dc01.ping", subject("p", "dc01", "ping"))

	assert.NotEqual(t, subject("p", "dc01.corp", "ping"), subject("p", "dc01_corp", "ping"))
	assert.NotEqual(t, subject("p", "a_2Eb", "ping"), subject("p", "a.b", "ping"))
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	p := TCPProber{Port: port, Timeout: time.Second}
	assert.True(t, p.Probe(context.Background(), "127.0.0.1"))

	// Grab a free port and close it so nothing is listening.
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	p = TCPProber{Port: closedPort, Timeout: time.Second}
	assert.False(t, p.Probe(context.Background(), "127.0.0.1"), "port %s should be closed", strconv.Itoa(closedPort))
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(_ context.Context, host string) bool { return host == "ok" })
	assert.True(t, p.Probe(context.Background(), "ok"))
	assert.False(t, p.Probe(context.Background(), "nope"))
}
