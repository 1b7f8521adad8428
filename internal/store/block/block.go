// Package block implements the Compressed Block Store (CBS): the on-disk
// format §6.2 defines for a term's posting stream. A posting file is a
// sequence of independently-compressed fixed-size blocks (the `.hit`
// payload) alongside a lookup sidecar recording each block's cumulative
// compressed offset and uncompressed size (`.hit.comp.comp_lookup`) and an
// auxiliary per-block compressed/uncompressed size sidecar
// (`.hit.comp_size`). These files are produced offline by the indexing
// pipeline; this package's Reader only ever consumes them, and its Writer
// exists to produce §6.2-conformant fixtures for tests and tooling.
package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	qerrors "github.com/distsearch/query-core/pkg/errors"
)

// hitSuffix, lookupSuffix, and compSizeSuffix are the §6.2 file suffixes
// appended to a posting file's base path (<dir>/<term_id>.<hit_type>).
const (
	hitSuffix      = ".hit"
	lookupSuffix   = ".hit.comp.comp_lookup"
	compSizeSuffix = ".hit.comp_size"
)

// TrailerSize is the fixed-size trailer appended to the lookup file:
// comp_block_count(4) + buffer_size(4) + total_uncompressed_bytes(8), per
// §6.2.
const TrailerSize = 16

// lookupEntrySize is the size of one (cum_compressed_byte_offset:i64,
// uncompressed_size:u32) row in the lookup file, per §6.2.
const lookupEntrySize = 12

// compSizeEntrySize is the size of one (compressed_size:i32,
// uncompressed_size:i32) row in the comp_size sidecar, per §6.2.
const compSizeEntrySize = 8

// Trailer describes the block layout of a CBS hit file.
type Trailer struct {
	BlockCount       uint32
	BufferSize       uint32
	TotalUncompBytes uint64
}

// Writer appends raw data to a CBS hit file, buffering up to BufferSize bytes
// per compression block, and maintains the lookup and comp_size sidecar
// files. Writes go to .tmp paths and are renamed into place on Close so a
// reader never observes a partially written store.
type Writer struct {
	bufferSize int64

	hitPath      string
	lookupPath   string
	compSizePath string

	hitTmp      *os.File
	lookupTmp   *os.File
	compSizeTmp *os.File

	writeCompSize bool

	raw              []byte
	compressedOffset uint64
	blockCount       uint32
	totalUncomp      uint64
}

// OpenWrite creates a new CBS store rooted at path (path.hit,
// path.hit.comp.comp_lookup, and, if writeCompSize, path.hit.comp_size).
// bufferSize is B, the max raw block size; it must be a positive multiple
// of 8.
func OpenWrite(path string, bufferSize int64, writeCompSize bool) (*Writer, error) {
	if bufferSize <= 0 || bufferSize%8 != 0 {
		return nil, fmt.Errorf("block: buffer size %d must be a positive multiple of 8", bufferSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("block: creating store directory: %w", err)
	}
	w := &Writer{
		bufferSize:    bufferSize,
		hitPath:       path + hitSuffix,
		lookupPath:    path + lookupSuffix,
		compSizePath:  path + compSizeSuffix,
		writeCompSize: writeCompSize,
		raw:           make([]byte, 0, bufferSize),
	}
	var err error
	if w.hitTmp, err = os.Create(w.hitPath + ".tmp"); err != nil {
		return nil, fmt.Errorf("block: creating hit file: %w", err)
	}
	if w.lookupTmp, err = os.Create(w.lookupPath + ".tmp"); err != nil {
		w.hitTmp.Close()
		return nil, fmt.Errorf("block: creating lookup file: %w", err)
	}
	if writeCompSize {
		if w.compSizeTmp, err = os.Create(w.compSizePath + ".tmp"); err != nil {
			w.hitTmp.Close()
			w.lookupTmp.Close()
			return nil, fmt.Errorf("block: creating comp_size sidecar: %w", err)
		}
	}
	return w, nil
}

// Append adds raw bytes to the store, flushing a compressed block whenever
// the current buffer fills.
func (w *Writer) Append(data []byte) error {
	for len(data) > 0 {
		room := int(w.bufferSize) - len(w.raw)
		n := len(data)
		if n > room {
			n = room
		}
		w.raw = append(w.raw, data[:n]...)
		data = data[n:]
		if len(w.raw) == int(w.bufferSize) {
			if err := w.flushBlock(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.raw) == 0 {
		return nil
	}
	var compBuf bytes.Buffer
	fw, err := flate.NewWriter(&compBuf, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("block: creating flate writer: %w", err)
	}
	if _, err := fw.Write(w.raw); err != nil {
		return fmt.Errorf("block: compressing block: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("block: closing flate writer: %w", err)
	}
	compressed := compBuf.Bytes()
	if _, err := w.hitTmp.Write(compressed); err != nil {
		return fmt.Errorf("%w: writing hit file: %v", qerrors.ErrIoFailure, err)
	}
	w.compressedOffset += uint64(len(compressed))
	entry := make([]byte, lookupEntrySize)
	binary.LittleEndian.PutUint64(entry[0:8], w.compressedOffset)
	binary.LittleEndian.PutUint32(entry[8:12], uint32(len(w.raw)))
	if _, err := w.lookupTmp.Write(entry); err != nil {
		return fmt.Errorf("%w: writing lookup file: %v", qerrors.ErrIoFailure, err)
	}
	if w.writeCompSize {
		sizeEntry := make([]byte, compSizeEntrySize)
		binary.LittleEndian.PutUint32(sizeEntry[0:4], uint32(len(compressed)))
		binary.LittleEndian.PutUint32(sizeEntry[4:8], uint32(len(w.raw)))
		if _, err := w.compSizeTmp.Write(sizeEntry); err != nil {
			return fmt.Errorf("%w: writing comp_size sidecar: %v", qerrors.ErrIoFailure, err)
		}
	}
	w.blockCount++
	w.totalUncomp += uint64(len(w.raw))
	w.raw = w.raw[:0]
	return nil
}

// Close flushes any partial block, writes the trailer, and atomically
// installs the store files in place of any prior version.
func (w *Writer) Close() error {
	if err := w.flushBlock(); err != nil {
		w.hitTmp.Close()
		w.lookupTmp.Close()
		if w.compSizeTmp != nil {
			w.compSizeTmp.Close()
		}
		return err
	}
	trailer := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint32(trailer[0:4], w.blockCount)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(w.bufferSize))
	binary.LittleEndian.PutUint64(trailer[8:16], w.totalUncomp)
	if _, err := w.lookupTmp.Write(trailer); err != nil {
		return fmt.Errorf("%w: writing trailer: %v", qerrors.ErrIoFailure, err)
	}
	if err := w.hitTmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing hit file: %v", qerrors.ErrIoFailure, err)
	}
	if err := w.lookupTmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing lookup file: %v", qerrors.ErrIoFailure, err)
	}
	if err := w.hitTmp.Close(); err != nil {
		return err
	}
	if err := w.lookupTmp.Close(); err != nil {
		return err
	}
	if w.compSizeTmp != nil {
		if err := w.compSizeTmp.Sync(); err != nil {
			return fmt.Errorf("%w: syncing comp_size sidecar: %v", qerrors.ErrIoFailure, err)
		}
		if err := w.compSizeTmp.Close(); err != nil {
			return err
		}
	}
	if err := os.Rename(w.hitPath+".tmp", w.hitPath); err != nil {
		return fmt.Errorf("%w: renaming hit file: %v", qerrors.ErrIoFailure, err)
	}
	if err := os.Rename(w.lookupPath+".tmp", w.lookupPath); err != nil {
		return fmt.Errorf("%w: renaming lookup file: %v", qerrors.ErrIoFailure, err)
	}
	if w.writeCompSize {
		if err := os.Rename(w.compSizePath+".tmp", w.compSizePath); err != nil {
			return fmt.Errorf("%w: renaming comp_size sidecar: %v", qerrors.ErrIoFailure, err)
		}
	}
	return nil
}

// blockEntry is one decoded lookup-file row.
type blockEntry struct {
	cumulativeOffset uint64
	uncompSize       uint32
}

// Reader provides random access to a closed CBS store.
type Reader struct {
	hit     *os.File
	trailer Trailer
	entries []blockEntry
}

// OpenRead opens an existing CBS store and loads its lookup file and
// trailer into memory.
func OpenRead(path string) (*Reader, error) {
	hitPath := path + hitSuffix
	lookupPath := path + lookupSuffix

	hit, err := os.Open(hitPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening hit file: %v", qerrors.ErrIoFailure, err)
	}
	lookupData, err := os.ReadFile(lookupPath)
	if err != nil {
		hit.Close()
		return nil, fmt.Errorf("%w: reading lookup file: %v", qerrors.ErrIoFailure, err)
	}
	if len(lookupData) < TrailerSize {
		hit.Close()
		return nil, fmt.Errorf("%w: lookup file too short", qerrors.ErrIndexCorrupt)
	}
	trailerOff := len(lookupData) - TrailerSize
	trailerBytes := lookupData[trailerOff:]
	trailer := Trailer{
		BlockCount:       binary.LittleEndian.Uint32(trailerBytes[0:4]),
		BufferSize:       binary.LittleEndian.Uint32(trailerBytes[4:8]),
		TotalUncompBytes: binary.LittleEndian.Uint64(trailerBytes[8:16]),
	}
	wantLen := int(trailer.BlockCount)*lookupEntrySize + TrailerSize
	if len(lookupData) != wantLen {
		hit.Close()
		return nil, fmt.Errorf("%w: lookup file size %d, expected %d", qerrors.ErrIndexCorrupt, len(lookupData), wantLen)
	}
	entries := make([]blockEntry, trailer.BlockCount)
	for i := range entries {
		off := i * lookupEntrySize
		entries[i] = blockEntry{
			cumulativeOffset: binary.LittleEndian.Uint64(lookupData[off : off+8]),
			uncompSize:       binary.LittleEndian.Uint32(lookupData[off+8 : off+12]),
		}
	}
	return &Reader{hit: hit, trailer: trailer, entries: entries}, nil
}

// Trailer returns the store's trailer metadata.
func (r *Reader) Trailer() Trailer {
	return r.trailer
}

// BlockCount returns the number of compression blocks in the store.
func (r *Reader) BlockCount() int {
	return len(r.entries)
}

// TotalUncompressedBytes returns the sum of all blocks' decompressed sizes.
func (r *Reader) TotalUncompressedBytes() uint64 {
	return r.trailer.TotalUncompBytes
}

// GetBlock returns the i-th block fully decompressed.
func (r *Reader) GetBlock(i int) ([]byte, error) {
	if i < 0 || i >= len(r.entries) {
		return nil, fmt.Errorf("%w: block index %d out of range [0,%d)", qerrors.ErrIndexCorrupt, i, len(r.entries))
	}
	start := uint64(0)
	if i > 0 {
		start = r.entries[i-1].cumulativeOffset
	}
	end := r.entries[i].cumulativeOffset
	if end < start {
		return nil, fmt.Errorf("%w: block %d has negative compressed length", qerrors.ErrIndexCorrupt, i)
	}
	compressed := make([]byte, end-start)
	if _, err := r.hit.ReadAt(compressed, int64(start)); err != nil {
		return nil, fmt.Errorf("%w: reading block %d: %v", qerrors.ErrIoFailure, i, err)
	}
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	raw := make([]byte, r.entries[i].uncompSize)
	if _, err := io.ReadFull(fr, raw); err != nil {
		return nil, fmt.Errorf("%w: decompressing block %d: %v", qerrors.ErrIndexCorrupt, i, err)
	}
	return raw, nil
}

// RandomRead reads len(out) bytes starting at byteOffset in the uncompressed
// logical stream, spanning as many blocks as necessary. It returns
// ErrIndexCorrupt if the read runs past the end of the store.
func (r *Reader) RandomRead(byteOffset uint64, out []byte) error {
	bufferSize := uint64(r.trailer.BufferSize)
	if bufferSize == 0 {
		return fmt.Errorf("%w: store has zero buffer size", qerrors.ErrIndexCorrupt)
	}
	remaining := out
	pos := byteOffset
	for len(remaining) > 0 {
		blockIdx := int(pos / bufferSize)
		within := pos % bufferSize
		raw, err := r.GetBlock(blockIdx)
		if err != nil {
			return err
		}
		if within >= uint64(len(raw)) {
			return fmt.Errorf("%w: offset %d past end of block %d", qerrors.ErrIndexCorrupt, pos, blockIdx)
		}
		n := copy(remaining, raw[within:])
		remaining = remaining[n:]
		pos += uint64(n)
	}
	return nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.hit.Close()
}
