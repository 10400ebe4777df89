package source

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/setevik/eventwatch/internal/event"
)

// EncodingZstd is the Content-Encoding header value for zstd payloads.
const EncodingZstd = "zstd"

var (
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
)

// EncodeRecord serializes a record for the wire, compressing it when
// encoding is EncodingZstd.
func EncodeRecord(r event.Record, encoding string) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	switch encoding {
	case "":
		return data, nil
	case EncodingZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeRecord parses a wire payload produced by EncodeRecord.
func DecodeRecord(data []byte, encoding string) (event.Record, error) {
	switch encoding {
	case "":
	case EncodingZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return event.Record{}, fmt.Errorf("creating zstd decoder: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return event.Record{}, fmt.Errorf("decompressing record: %w", err)
		}
	default:
		return event.Record{}, fmt.Errorf("unsupported encoding %q", encoding)
	}

	var r event.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return event.Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}
