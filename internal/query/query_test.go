package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/setevik/eventwatch/internal/event"
)

func TestBuildEventIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
	}{
		{"single", []int{4740}},
		{"several", []int{4720, 4726, 4738}},
		{"duplicates kept", []int{4740, 4740}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Build(Spec{EventIDs: tt.ids, LogName: "Security"})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			if n := strings.Count(q, "TargetInstance.EventCode = "); n != len(tt.ids) {
				t.Errorf("got %d event code clauses, want %d: %s", n, len(tt.ids), q)
			}
			if n := strings.Count(q, "(TargetInstance.EventCode"); n != 1 {
				t.Errorf("event code group should appear once, got %d: %s", n, q)
			}
			if n := strings.Count(q, " OR "); n != len(tt.ids)-1 {
				t.Errorf("got %d OR joins, want %d: %s", n, len(tt.ids)-1, q)
			}
			if strings.Contains(q, "EventType") {
				t.Errorf("severity group should be absent: %s", q)
			}
		})
	}
}

func TestBuildExactOutput(t *testing.T) {
	q, err := Build(Spec{
		EventIDs:   []int{4740, 4720},
		Severities: []event.Severity{event.SevAuditSuccess, event.SevError},
		LogName:    "Security",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := "SELECT * FROM __InstanceCreationEvent WITHIN 5 WHERE TargetInstance ISA 'Win32_NTLogEvent'" +
		" AND TargetInstance.LogFile = 'Security'" +
		" AND (TargetInstance.EventCode = 4740 OR TargetInstance.EventCode = 4720)" +
		" AND (TargetInstance.EventType = 4 OR TargetInstance.EventType = 1)"
	if q != want {
		t.Errorf("Build =\n%s\nwant\n%s", q, want)
	}
}

func TestBuildSeveritiesOnly(t *testing.T) {
	q, err := Build(Spec{
		Severities: []event.Severity{event.SevError, event.SevWarning},
		LogName:    "System",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := strings.Count(q, "TargetInstance.EventType = "); n != 2 {
		t.Errorf("got %d severity clauses, want 2: %s", n, q)
	}
	if strings.Contains(q, "EventCode") {
		t.Errorf("event code group should be absent: %s", q)
	}
}

func TestBuildRawWins(t *testing.T) {
	raw := "SELECT * FROM Win32_NTLogEvent WHERE EventCode = 1"
	q, err := Build(Spec{
		Raw:        raw,
		EventIDs:   []int{4740},
		Severities: []event.Severity{event.SevError},
		LogName:    "Security",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if q != raw {
		t.Errorf("Build = %q, want raw query verbatim", q)
	}
}

func TestBuildMalformed(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty", Spec{}},
		{"no log name", Spec{EventIDs: []int{4740}}},
		{"log name only", Spec{LogName: "Security"}},
		{"blank raw", Spec{Raw: "   "}},
		{"unknown severity", Spec{LogName: "Security", Severities: []event.Severity{"Critical"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Build(tt.spec)
			if !errors.Is(err, ErrMalformedFilter) {
				t.Fatalf("Build error = %v, want ErrMalformedFilter", err)
			}
			if q != "" {
				t.Errorf("Build returned %q alongside error", q)
			}
		})
	}
}

func TestBuildEscapesLogName(t *testing.T) {
	q, err := Build(Spec{EventIDs: []int{1}, LogName: "O'Brien"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q, "LogFile = 'O''Brien'") {
		t.Errorf("log name not escaped: %s", q)
	}
}

func TestParseEventIDs(t *testing.T) {
	ids, err := ParseEventIDs([]string{"4740, 4720", "4726"})
	if err != nil {
		t.Fatalf("ParseEventIDs: %v", err)
	}
	want := []int{4740, 4720, 4726}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}

	if _, err := ParseEventIDs([]string{"47x0"}); err == nil {
		t.Error("expected error for non-numeric ID")
	}
	if ids, err := ParseEventIDs(nil); err != nil || len(ids) != 0 {
		t.Errorf("ParseEventIDs(nil) = %v, %v", ids, err)
	}
}

func TestParseSeverities(t *testing.T) {
	sevs, err := ParseSeverities([]string{"error,warning"})
	if err != nil {
		t.Fatalf("ParseSeverities: %v", err)
	}
	if len(sevs) != 2 || sevs[0] != event.SevError || sevs[1] != event.SevWarning {
		t.Errorf("got %v", sevs)
	}

	if _, err := ParseSeverities([]string{"fatal"}); err == nil {
		t.Error("expected error for unknown severity")
	}
}
