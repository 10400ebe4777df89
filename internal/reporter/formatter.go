package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/setevik/eventwatch/internal/decode"
	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/format"
	"github.com/setevik/eventwatch/internal/monitor"
)

// codeEmoji maps event codes to display emojis for ntfy titles.
var codeEmoji = map[uint32]string{
	decode.CodeAccountLockout:  "\U0001f512", // lock
	decode.CodeAccountCreated:  "\U0001f464", // bust in silhouette
	decode.CodeAccountDeleted:  "\u274c",     // cross mark
	decode.CodeAccountChanged:  "\u270f",     // pencil
	decode.CodeDirectoryChange: "\U0001f4c2", // open folder
}

// codeTags maps event codes to ntfy tag names.
var codeTags = map[uint32]string{
	decode.CodeAccountLockout:  "lock,account",
	decode.CodeAccountCreated:  "new,account",
	decode.CodeAccountDeleted:  "x,account",
	decode.CodeAccountChanged:  "pencil2,account",
	decode.CodeDirectoryChange: "file_folder,directory",
}

// FormatTitle builds the ntfy notification title for a record. Records with
// a decoder get its one-line summary.
func FormatTitle(r event.Record) string {
	emoji := codeEmoji[r.EventCode]
	if emoji == "" {
		emoji = "\u2757" // exclamation mark
	}
	summary := fmt.Sprintf("event %d", r.EventCode)
	if d, ok := decode.Decode(r); ok {
		summary = d.Summary()
	}
	return fmt.Sprintf("%s [%s] %s", emoji, r.Host, summary)
}

// FormatBody builds the ntfy notification body for a record.
func FormatBody(r event.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Host: %s\n", r.Host)
	if r.ComputerName != "" && !strings.EqualFold(r.ComputerName, r.Host) {
		fmt.Fprintf(&b, "Computer: %s\n", r.ComputerName)
	}
	fmt.Fprintf(&b, "Event: %d (%s)\n", r.EventCode, r.Severity().Label())
	if r.LogFile != "" {
		fmt.Fprintf(&b, "Log: %s\n", r.LogFile)
	}
	if ts := r.Timestamp(); !ts.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", ts.Format("2006-01-02 15:04:05 MST"))
	}

	if r.Message != "" {
		// First line only; event messages run to dozens of lines.
		line, _, _ := strings.Cut(r.Message, "\n")
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(line))
	}

	return b.String()
}

// TagsForCode returns the ntfy tags string for an event code.
func TagsForCode(code uint32) string {
	if tags, ok := codeTags[code]; ok {
		return tags
	}
	return "warning"
}

// ErrUnsupported is returned for records no decoder handles.
var ErrUnsupported = errors.New("no decoder for event code")

// FormatDecodedRecord decodes r and renders it with FormatDecoded.
func FormatDecodedRecord(r event.Record) (string, error) {
	d, ok := decode.Decode(r)
	if !ok {
		return "", ErrUnsupported
	}
	return FormatDecoded(d)
}

// FormatDecoded renders a decoded record as its summary followed by its
// fields as indented YAML.
func FormatDecoded(d decode.Decoded) (string, error) {
	// Round-trip through JSON so the field names follow the json tags.
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding decoded record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("encoding decoded record: %w", err)
	}
	out, err := yaml.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("rendering decoded record: %w", err)
	}

	var b strings.Builder
	h := d.Head()
	fmt.Fprintf(&b, "# %d %s: %s\n", h.EventCode, h.Host, d.Summary())
	b.Write(out)
	return b.String(), nil
}

// FormatMonitorTable writes the active monitors as an aligned table.
func FormatMonitorTable(w io.Writer, monitors []monitor.MonitorInfo, now time.Time) error {
	if len(monitors) == 0 {
		_, err := fmt.Fprintln(w, "No active monitors.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSCRIPTION\tHOST\tMODE\tAGE\tHANDLE")
	for _, m := range monitors {
		mode := "once"
		if m.Persistent {
			mode = "persistent"
		}
		handle := "-"
		if m.Handle != nil {
			handle = m.Handle.ID()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.SubscriptionID, m.Host, mode, format.Age(m.Started, now), handle)
	}
	return tw.Flush()
}
