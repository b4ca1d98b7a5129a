package regionfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Compression kinds, per §4.I; the high bit of the byte this kind is
// stored in is reserved for the external-storage flag and must always be
// masked off before matching against these constants.
const (
	CompressionGzip       byte = 1
	CompressionZlib       byte = 2
	CompressionUncompressed byte = 3
	CompressionLZ4        byte = 4
	CompressionCustom     byte = 127

	externalFlag byte = 0x80
	kindMask     byte = 0x7f
)

// compress encodes data under the requested kind.
func compress(kind byte, data []byte) ([]byte, error) {
	switch kind & kindMask {
	case CompressionUncompressed:
		return data, nil
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("regionfile: unsupported compression kind %d", kind&kindMask)
	}
}

// decompress decodes data, masking off the external-storage flag before
// dispatching on the compression kind per §4.I's "readers MUST mask the
// external bit" invariant.
func decompress(kind byte, data []byte) ([]byte, error) {
	switch kind & kindMask {
	case CompressionUncompressed:
		return data, nil
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionLZ4:
		return nil, fmt.Errorf("regionfile: lz4 compression is optional and not linked into this build")
	default:
		return nil, fmt.Errorf("regionfile: unsupported compression kind %d", kind&kindMask)
	}
}
