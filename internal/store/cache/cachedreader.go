package cache

import (
	"fmt"

	"github.com/distsearch/query-core/internal/store/block"
	qerrors "github.com/distsearch/query-core/pkg/errors"
)

// CachedReader pairs a CBS block.Reader with the process-global Block
// Cache, so random reads against a posting stream go through cached,
// session-pinned decompressed blocks instead of decompressing on every call.
type CachedReader struct {
	fileHandleID uint32
	reader       *block.Reader
	cache        *Cache
}

// NewCachedReader wraps reader under fileHandleID, a caller-assigned id
// unique among the file handles sharing c.
func NewCachedReader(fileHandleID uint32, reader *block.Reader, c *Cache) *CachedReader {
	return &CachedReader{fileHandleID: fileHandleID, reader: reader, cache: c}
}

// HitByteNum returns the total decompressed byte length of the stream.
func (cr *CachedReader) HitByteNum() uint64 {
	return cr.reader.TotalUncompressedBytes()
}

// RandomRead fills out with bytes starting at byteOffset in the logical
// uncompressed stream, fetching each spanned block through the Block Cache
// pinned to session.
func (cr *CachedReader) RandomRead(session uint64, byteOffset uint64, out []byte) error {
	bufferSize := cr.reader.Trailer().BufferSize
	if bufferSize == 0 {
		return fmt.Errorf("%w: stream has zero buffer size", qerrors.ErrIndexCorrupt)
	}
	remaining := out
	pos := byteOffset
	for len(remaining) > 0 {
		blockIdx := int(pos / bufferSize)
		within := pos % bufferSize
		key := Key{FileHandleID: cr.fileHandleID, BlockID: uint64(blockIdx)}
		data, err := cr.cache.Get(key, session, func() ([]byte, error) {
			return cr.reader.GetBlock(blockIdx)
		})
		if err != nil {
			return err
		}
		if within >= uint64(len(data)) {
			return fmt.Errorf("%w: offset %d past end of block %d", qerrors.ErrIndexCorrupt, pos, blockIdx)
		}
		n := copy(remaining, data[within:])
		remaining = remaining[n:]
		pos += uint64(n)
	}
	return nil
}

// Close releases the underlying CBS file handle.
func (cr *CachedReader) Close() error {
	return cr.reader.Close()
}
