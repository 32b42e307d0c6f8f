package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/TheusHen/cocstress/coc/fault"
)

// ErrDecompressionFailed marks a compressed payload that does not decode to
// exactly its declared length.
var ErrDecompressionFailed = fmt.Errorf("protocol: decompression failed: %w", fault.ErrProtocolViolation)

// A compressed payload is the uncompressed length as a big-endian uint32
// followed by one raw LZ4 block.
const rawLenSize = 4

// lz4.Compressor keeps a hash table between calls and is not safe for
// concurrent use.
var compressors = sync.Pool{New: func() any { return new(lz4.Compressor) }}

// shrink returns the compressed form of p, or false when compression would
// not make it smaller.
func shrink(p []byte) ([]byte, bool) {
	dst := make([]byte, rawLenSize+lz4.CompressBlockBound(len(p)))
	c := compressors.Get().(*lz4.Compressor)
	n, err := c.CompressBlock(p, dst[rawLenSize:])
	compressors.Put(c)
	// n == 0 means the block was incompressible.
	if err != nil || n == 0 || rawLenSize+n >= len(p) {
		return nil, false
	}
	binary.BigEndian.PutUint32(dst, uint32(len(p)))
	return dst[:rawLenSize+n], true
}

// expand reverses shrink, refusing output longer than limit.
func expand(p []byte, limit int) ([]byte, error) {
	if len(p) < rawLenSize {
		return nil, fmt.Errorf("%w: truncated length prefix", ErrDecompressionFailed)
	}
	want := binary.BigEndian.Uint32(p)
	if int64(want) > int64(limit) {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrDecompressionFailed, limit)
	}
	out := make([]byte, want)
	n, err := lz4.UncompressBlock(p[rawLenSize:], out)
	if err != nil {
		return nil, errors.Join(ErrDecompressionFailed, err)
	}
	if n != int(want) {
		return nil, fmt.Errorf("%w: decoded %d of %d bytes", ErrDecompressionFailed, n, want)
	}
	return out, nil
}
