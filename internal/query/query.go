// Package query builds WQL event-log subscription filters.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/setevik/eventwatch/internal/event"
)

// ErrMalformedFilter is returned when neither a raw query nor a usable
// log name plus event ID / severity combination is supplied.
var ErrMalformedFilter = errors.New("malformed filter")

const selectPrefix = "SELECT * FROM __InstanceCreationEvent WITHIN 5 WHERE TargetInstance ISA 'Win32_NTLogEvent'"

// Spec describes what a monitor should match.
type Spec struct {
	// Raw, when set, is used verbatim and every other field is ignored.
	Raw        string
	EventIDs   []int
	Severities []event.Severity
	LogName    string
}

// Build resolves a Spec into a filter expression.
func Build(s Spec) (string, error) {
	if raw := strings.TrimSpace(s.Raw); raw != "" {
		return s.Raw, nil
	}

	logName := strings.TrimSpace(s.LogName)
	if logName == "" {
		return "", fmt.Errorf("%w: log name is required", ErrMalformedFilter)
	}
	if len(s.EventIDs) == 0 && len(s.Severities) == 0 {
		return "", fmt.Errorf("%w: at least one event ID or severity is required", ErrMalformedFilter)
	}

	var b strings.Builder
	b.WriteString(selectPrefix)
	fmt.Fprintf(&b, " AND TargetInstance.LogFile = '%s'", strings.ReplaceAll(logName, "'", "''"))

	if len(s.EventIDs) > 0 {
		clauses := make([]string, 0, len(s.EventIDs))
		for _, id := range s.EventIDs {
			clauses = append(clauses, "TargetInstance.EventCode = "+strconv.Itoa(id))
		}
		b.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	if len(s.Severities) > 0 {
		clauses := make([]string, 0, len(s.Severities))
		for _, sev := range s.Severities {
			code, ok := sev.TypeCode()
			if !ok {
				return "", fmt.Errorf("%w: unknown severity %q", ErrMalformedFilter, sev)
			}
			clauses = append(clauses, "TargetInstance.EventType = "+strconv.Itoa(int(code)))
		}
		b.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	return b.String(), nil
}

// ParseEventIDs parses event IDs from a list of values, each of which may
// itself be a comma-separated list.
func ParseEventIDs(values []string) ([]int, error) {
	var ids []int
	for _, part := range splitList(values) {
		id, err := strconv.Atoi(part)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid event ID %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseSeverities parses severity names. Comma-separated lists are accepted.
func ParseSeverities(values []string) ([]event.Severity, error) {
	var sevs []event.Severity
	for _, part := range splitList(values) {
		sev, err := event.ParseSeverity(part)
		if err != nil {
			return nil, err
		}
		sevs = append(sevs, sev)
	}
	return sevs, nil
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
