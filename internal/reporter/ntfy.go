package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/setevik/eventwatch/internal/config"
	"github.com/setevik/eventwatch/internal/event"
)

// NtfyNotifier sends matched-event notifications to an ntfy server.
type NtfyNotifier struct {
	cfg    *config.Config
	client *http.Client
}

// NewNtfy creates a new NtfyNotifier.
func NewNtfy(cfg *config.Config) *NtfyNotifier {
	return &NtfyNotifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Notify sends a notification for r if ntfy is configured and the record's
// event code is one of the configured alert codes.
func (n *NtfyNotifier) Notify(ctx context.Context, r event.Record) error {
	if n.cfg.Ntfy.URL == "" {
		slog.Debug("ntfy URL not configured, skipping notification")
		return nil
	}

	if !n.cfg.ShouldAlert(r.EventCode) {
		slog.Debug("event code not in alert codes, skipping", "code", r.EventCode)
		return nil
	}

	priority := n.cfg.NtfyPriority(r.Severity().Key())
	if err := n.Send(ctx, FormatTitle(r), FormatBody(r), priority, TagsForCode(r.EventCode)); err != nil {
		return err
	}

	slog.Info("notification sent", "host", r.Host, "code", r.EventCode, "priority", priority)
	return nil
}

// SendDigest posts a digest of the collected alerts. An empty digest or an
// unconfigured URL sends nothing.
func (n *NtfyNotifier) SendDigest(ctx context.Context, d *DigestSummary) error {
	if n.cfg.Ntfy.URL == "" || d.Total == 0 {
		return nil
	}
	return n.Send(ctx, FormatDigestTitle(d.Since, d.Until), FormatDigest(d), "low", "bar_chart")
}

// Send posts a message to the configured ntfy URL.
func (n *NtfyNotifier) Send(ctx context.Context, title, body, priority, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Ntfy.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
