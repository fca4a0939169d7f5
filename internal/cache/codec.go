package cache

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrCorruptEntry is returned when a cached batch cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Entry layout: one format byte, then the msgpack body, zstd-compressed
// for formatZstd.
const (
	formatPlain byte = 1
	formatZstd  byte = 2
)

// compressAbove is the body size from which remote entries are compressed.
const compressAbove = 1 << 10

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func encodeBatch(b *domain.Batch, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatPlain)

	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("failed to encode batch %s: %w", b.ID, err)
	}

	data := buf.Bytes()
	if !compress || len(data) <= compressAbove {
		return data, nil
	}
	out := make([]byte, 1, len(data)/2)
	out[0] = formatZstd
	return zstdEncoder.EncodeAll(data[1:], out), nil
}

func decodeBatch(data []byte) (*domain.Batch, error) {
	if len(data) == 0 {
		return nil, ErrCorruptEntry
	}

	body := data[1:]
	switch data[0] {
	case formatPlain:
	case formatZstd:
		var err error
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrCorruptEntry, data[0])
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	dec.SetCustomStructTag("json")
	var b domain.Batch
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.RatedAt = b.RatedAt.UTC()
	return &b, nil
}
