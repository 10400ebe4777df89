package source

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// DefaultProbePort is the RPC endpoint mapper, which WMI depends on.
const DefaultProbePort = 135

// TCPProber reports a host reachable when a TCP connection to Port succeeds.
type TCPProber struct {
	Port    int
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context, host string) bool {
	port := p.Port
	if port <= 0 {
		port = DefaultProbePort
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		slog.Debug("probe failed", "host", host, "port", port, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}
