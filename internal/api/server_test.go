package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/metrics"
	"github.com/setevik/eventwatch/internal/monitor"
)

type stubHandle string

func (h stubHandle) ID() string { return string(h) }

type stubController struct {
	monitors    []monitor.MonitorInfo
	stopErr     error
	stoppedHost string
}

func (c *stubController) ListActiveMonitors() []monitor.MonitorInfo { return c.monitors }
func (c *stubController) StopAllMonitors() error { return c.stopErr }
func (c *stubController) StopHost(host string) error {
	c.stoppedHost = host
	return c.stopErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := NewServer(&stubController{}, nil, nil, quietLogger())
	rec := do(t, s.Handler(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestListMonitors(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctrl := &stubController{monitors: []monitor.MonitorInfo{
		{SubscriptionID: "dc01#1", Host: "dc01", Persistent: true, Started: started, Handle: stubHandle("inbox-1")},
	}}
	s := NewServer(ctrl, nil, nil, quietLogger())

	rec := do(t, s.Handler(), http.MethodGet, "/monitors")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []monitorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "dc01#1", got[0].SubscriptionID)
	assert.Equal(t, "inbox-1", got[0].Handle)
	assert.True(t, got[0].Started.Equal(started))
}

func TestListMonitorsEmptyIsArray(t *testing.T) {
	s := NewServer(&stubController{}, nil, nil, quietLogger())
	rec := do(t, s.Handler(), http.MethodGet, "/monitors")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestStopAll(t *testing.T) {
	s := NewServer(&stubController{}, nil, nil, quietLogger())
	rec := do(t, s.Handler(), http.MethodDelete, "/monitors")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stopped":true}`, rec.Body.String())
}

func TestStopAllPartialFailure(t *testing.T) {
	ctrl := &stubController{stopErr: &monitor.TeardownError{Failures: map[string]error{
		"dc02#2": errors.New("agent gone"),
	}}}
	s := NewServer(ctrl, nil, nil, quietLogger())

	rec := do(t, s.Handler(), http.MethodDelete, "/monitors")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.JSONEq(t, `{"stopped":false,"failures":{"dc02#2":"agent gone"}}`, rec.Body.String())
}

func TestStopAllUnexpectedError(t *testing.T) {
	s := NewServer(&stubController{stopErr: errors.New("boom")}, nil, nil, quietLogger())
	rec := do(t, s.Handler(), http.MethodDelete, "/monitors")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStopHost(t *testing.T) {
	ctrl := &stubController{}
	s := NewServer(ctrl, nil, nil, quietLogger())

	rec := do(t, s.Handler(), http.MethodDelete, "/monitors/dc01.corp.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dc01.corp.example", ctrl.stoppedHost)
}

func TestAlertsAndDigest(t *testing.T) {
	sink := monitor.NewAlertSink(monitor.WithSinkLogger(quietLogger()))
	r := event.New("dc01", 4740, "jdoe")
	r.TimeGenerated = "20260301080000.000000+000"
	sink.Append(r)

	s := NewServer(&stubController{}, sink, nil, quietLogger())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rec := do(t, s.Handler(), http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []event.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(4740), got[0].EventCode)

	rec = do(t, s.Handler(), http.MethodGet, "/digest?window=6h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lockouts:")
	assert.Contains(t, rec.Body.String(), "jdoe ×1")

	rec = do(t, s.Handler(), http.MethodGet, "/digest?window=1h")
	assert.Contains(t, rec.Body.String(), "Events: 0")

	rec = do(t, s.Handler(), http.MethodGet, "/digest?window=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	s := NewServer(&stubController{}, nil, nil, quietLogger())
	for _, path := range []string{"/alerts", "/digest", "/metrics"} {
		rec := do(t, s.Handler(), http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetActiveSubscriptions(2)

	s := NewServer(&stubController{}, nil, reg, quietLogger())
	rec := do(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "eventwatch_active_subscriptions 2"))
}
