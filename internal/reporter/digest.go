package reporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/setevik/eventwatch/internal/decode"
	"github.com/setevik/eventwatch/internal/event"
)

// codeNames labels the event codes the digest breaks out.
var codeNames = map[uint32]string{
	decode.CodeAccountLockout:  "Lockouts",
	decode.CodeAccountCreated:  "Accounts Created",
	decode.CodeAccountDeleted:  "Accounts Deleted",
	decode.CodeAccountChanged:  "Accounts Changed",
	decode.CodeDirectoryChange: "Directory Changes",
}

// DigestSummary holds aggregated record counts for a period.
type DigestSummary struct {
	Since time.Time
	Until time.Time
	Total int

	ByCode  map[uint32]int
	ByHost  map[string]int
	Targets map[uint32]map[string]int // code -> target account -> count
}

// BuildDigest aggregates the records received in [since, until).
// Records without a parseable timestamp are always counted.
func BuildDigest(records []event.Record, since, until time.Time) *DigestSummary {
	d := &DigestSummary{
		Since:   since,
		Until:   until,
		ByCode:  make(map[uint32]int),
		ByHost:  make(map[string]int),
		Targets: make(map[uint32]map[string]int),
	}

	for _, r := range records {
		if ts := r.Timestamp(); !ts.IsZero() && (ts.Before(since) || !ts.Before(until)) {
			continue
		}
		d.Total++
		d.ByCode[r.EventCode]++
		d.ByHost[r.Host]++

		if name := targetName(r); name != "" {
			if d.Targets[r.EventCode] == nil {
				d.Targets[r.EventCode] = make(map[string]int)
			}
			d.Targets[r.EventCode][name]++
		}
	}

	return d
}

// targetName returns the account a record is about, if it has a decoder.
func targetName(r event.Record) string {
	dec, ok := decode.Decode(r)
	if !ok {
		return ""
	}
	switch v := dec.(type) {
	case *decode.Lockout:
		return v.Target.UserName
	case *decode.AccountChange:
		return v.Target.UserName
	case *decode.AccountDeletion:
		return v.Target.UserName
	case *decode.DSChange:
		return v.ObjectDN
	}
	return ""
}

// FormatDigest formats a DigestSummary as human-readable text suitable for
// ntfy or stdout output.
func FormatDigest(d *DigestSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Period: %s - %s\n", d.Since.Local().Format("Jan 02 15:04"), d.Until.Local().Format("Jan 02 15:04"))
	fmt.Fprintf(&b, "Events: %d", d.Total)
	if len(d.ByHost) > 0 {
		fmt.Fprintf(&b, " (%s)", formatBreakdown(d.ByHost))
	}
	b.WriteString("\n\n")

	codes := make([]uint32, 0, len(d.ByCode))
	for code := range d.ByCode {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	for _, code := range codes {
		label := codeNames[code]
		if label == "" {
			label = fmt.Sprintf("Event %d", code)
		}
		fmt.Fprintf(&b, "%-18s %d", label+":", d.ByCode[code])
		if targets := d.Targets[code]; len(targets) > 0 {
			fmt.Fprintf(&b, " (%s)", formatBreakdown(targets))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// FormatDigestTitle generates the ntfy title for a digest notification.
func FormatDigestTitle(since, until time.Time) string {
	return fmt.Sprintf("\U0001f4ca eventwatch digest (%s-%s)",
		since.Local().Format("Jan 02"),
		until.Local().Format("Jan 02"))
}

// formatBreakdown turns a map[string]int into "foo ×2, bar ×1" sorted by
// count desc, then name.
func formatBreakdown(m map[string]int) string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(m))
	for name, count := range m {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s ×%d", e.name, e.count)
	}
	return strings.Join(parts, ", ")
}
