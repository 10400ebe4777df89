// Package decode turns well-known Security event records into structured
// records. Every decoder is a pure function that skips records whose event
// code it does not handle, so decoders can be applied to mixed streams.
package decode

import (
	"sort"
	"time"

	"github.com/setevik/eventwatch/internal/event"
)

// Event codes handled by this package.
const (
	CodeAccountCreated  uint32 = 4720
	CodeAccountDeleted  uint32 = 4726
	CodeAccountChanged  uint32 = 4738
	CodeAccountLockout  uint32 = 4740
	CodeDirectoryChange uint32 = 5136
)

// Header holds the fields shared by every decoded record.
type Header struct {
	EventCode    uint32    `json:"event_code"`
	Host         string    `json:"host"`
	Computer     string    `json:"computer"`
	Time         time.Time `json:"time"`
	RecordNumber uint64    `json:"record_number"`
}

// Subject identifies the account that performed an action.
type Subject struct {
	Sid      string `json:"sid"`
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	LogonID  string `json:"logon_id"`
}

// Account identifies the account an action was performed on.
type Account struct {
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	Sid      string `json:"sid"`
}

// Decoded is implemented by every structured record.
type Decoded interface {
	Head() Header
	Summary() string
}

func (h Header) Head() Header { return h }

func header(r event.Record) Header {
	return Header{
		EventCode:    r.EventCode,
		Host:         r.Host,
		Computer:     r.ComputerName,
		Time:         r.Timestamp(),
		RecordNumber: r.RecordNumber,
	}
}

// subjectAt reads the four subject fields starting at position i.
func subjectAt(r event.Record, i int) Subject {
	return Subject{
		Sid:      r.Insertion(i),
		UserName: r.Insertion(i + 1),
		Domain:   r.Insertion(i + 2),
		LogonID:  r.Insertion(i + 3),
	}
}

// accountAt reads user name, domain and SID starting at position i.
func accountAt(r event.Record, i int) Account {
	return Account{
		UserName: r.Insertion(i),
		Domain:   r.Insertion(i + 1),
		Sid:      r.Insertion(i + 2),
	}
}

var decoders = map[uint32]func(event.Record) (Decoded, bool){
	CodeAccountLockout:  wrap(AccountLockout),
	CodeAccountCreated:  wrap(AccountCreated),
	CodeAccountDeleted:  wrap(AccountDeleted),
	CodeAccountChanged:  wrap(AccountChanged),
	CodeDirectoryChange: wrap(DirectoryChange),
}

func wrap[T Decoded](fn func(event.Record) (T, bool)) func(event.Record) (Decoded, bool) {
	return func(r event.Record) (Decoded, bool) {
		d, ok := fn(r)
		if !ok {
			return nil, false
		}
		return d, true
	}
}

// Decode applies the decoder registered for the record's event code.
// ok is false when no decoder handles the code.
func Decode(r event.Record) (Decoded, bool) {
	fn, ok := decoders[r.EventCode]
	if !ok {
		return nil, false
	}
	return fn(r)
}

// Supported returns the handled event codes in ascending order.
func Supported() []uint32 {
	codes := make([]uint32, 0, len(decoders))
	for code := range decoders {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
