package event

import (
	"fmt"
	"strings"
)

// Severity is the event type of a log entry.
type Severity string

const (
	SevInformation  Severity = "Information"
	SevWarning      Severity = "Warning"
	SevError        Severity = "Error"
	SevAuditSuccess Severity = "Security Audit Success"
	SevAuditFailure Severity = "Security Audit Failure"
)

// typeCodes maps severities to the numeric Win32_NTLogEvent EventType.
var typeCodes = map[Severity]uint8{
	SevError:        1,
	SevWarning:      2,
	SevInformation:  3,
	SevAuditSuccess: 4,
	SevAuditFailure: 5,
}

// severityAliases are the accepted spellings for ParseSeverity, lowercased.
var severityAliases = map[string]Severity{
	"information":            SevInformation,
	"info":                   SevInformation,
	"warning":                SevWarning,
	"warn":                   SevWarning,
	"error":                  SevError,
	"security audit success": SevAuditSuccess,
	"audit success":          SevAuditSuccess,
	"audit-success":          SevAuditSuccess,
	"security audit failure": SevAuditFailure,
	"audit failure":          SevAuditFailure,
	"audit-failure":          SevAuditFailure,
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// TypeCode returns the numeric EventType for the severity.
// ok is false for values outside the enumeration.
func (s Severity) TypeCode() (uint8, bool) {
	code, ok := typeCodes[s]
	return code, ok
}

// SeverityFromType maps a numeric EventType back to a Severity.
func SeverityFromType(code uint8) Severity {
	for sev, c := range typeCodes {
		if c == code {
			return sev
		}
	}
	return Severity(fmt.Sprintf("type %d", code))
}

// Label returns a human-readable label for severity.
func (s Severity) Label() string {
	return string(s)
}

// Key returns a lowercase config-friendly name, e.g. "audit-failure".
func (s Severity) Key() string {
	switch s {
	case SevAuditSuccess:
		return "audit-success"
	case SevAuditFailure:
		return "audit-failure"
	default:
		return strings.ToLower(string(s))
	}
}
