package reporter

import (
	"time"

	"github.com/setevik/eventwatch/internal/decode"
	"github.com/setevik/eventwatch/internal/event"
)

// TestRecord creates a synthetic lockout record for testing ntfy
// connectivity.
func TestRecord(host string) event.Record {
	r := event.New(host, decode.CodeAccountLockout, "eventwatch-test", "TEST-WS", "S-1-0-0")
	r.ComputerName = host
	r.LogFile = "Security"
	r.EventType = 4
	r.TimeGenerated = time.Now().UTC().Format("20060102150405") + ".000000+000"
	r.Message = "Test notification from eventwatch. If you see this, ntfy is configured correctly."
	return r
}
