// Package event defines the event record delivered by remote event sources.
package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is a single event-log entry as delivered by a remote host.
// Field names follow the Win32_NTLogEvent class.
type Record struct {
	// ID is assigned locally when the record is received.
	ID string `json:"id,omitempty"`
	// Host is the monitored host the record arrived through.
	Host string `json:"host"`

	ComputerName     string   `json:"computer_name"`
	LogFile          string   `json:"log_file"`
	EventCode        uint32   `json:"event_code"`
	EventType        uint8    `json:"event_type"`
	Category         string   `json:"category,omitempty"`
	SourceName       string   `json:"source_name,omitempty"`
	RecordNumber     uint64   `json:"record_number"`
	TimeGenerated    string   `json:"time_generated"` // DMTF, e.g. 20260219143205.000000-000
	Message          string   `json:"message,omitempty"`
	InsertionStrings []string `json:"insertion_strings"`
}

// New creates a Record for the given host with a generated ID.
func New(host string, code uint32, insertions ...string) Record {
	return Record{
		ID:               uuid.NewString(),
		Host:             host,
		EventCode:        code,
		InsertionStrings: insertions,
	}
}

// Insertion returns the insertion string at position i, or "" when the
// record carries fewer strings.
func (r Record) Insertion(i int) string {
	if i < 0 || i >= len(r.InsertionStrings) {
		return ""
	}
	return r.InsertionStrings[i]
}

// Timestamp parses TimeGenerated. The DMTF form is
// yyyymmddHHMMSS.mmmmmmsUUU where sUUU is the UTC offset in minutes.
// Returns the zero time if the value cannot be parsed.
func (r Record) Timestamp() time.Time {
	return ParseDMTF(r.TimeGenerated)
}

// Severity returns the severity corresponding to the record's EventType.
func (r Record) Severity() Severity {
	return SeverityFromType(r.EventType)
}

// ParseDMTF converts a DMTF datetime string to a time.Time.
func ParseDMTF(s string) time.Time {
	if len(s) < 14 {
		return time.Time{}
	}
	base, err := time.Parse("20060102150405", s[:14])
	if err != nil {
		return time.Time{}
	}

	rest := s[14:]
	if strings.HasPrefix(rest, ".") && len(rest) >= 7 {
		if usec, err := strconv.Atoi(rest[1:7]); err == nil {
			base = base.Add(time.Duration(usec) * time.Microsecond)
		}
		rest = rest[7:]
	}

	if len(rest) == 4 && (rest[0] == '+' || rest[0] == '-') {
		mins, err := strconv.Atoi(rest[1:])
		if err == nil {
			offset := mins * 60
			if rest[0] == '-' {
				offset = -offset
			}
			loc := time.FixedZone("", offset)
			base = time.Date(base.Year(), base.Month(), base.Day(),
				base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), loc)
		}
	}
	return base
}
