package block

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
)

func truncateFile(path string, size int64) error {
	return os.Truncate(path, size)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terms")

	w, err := OpenWrite(path, 64, false)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	data := make([]byte, 64*5+17)
	rand.New(rand.NewSource(1)).Read(data)
	if err := w.Append(data); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path + hitSuffix); err != nil {
		t.Fatalf("hit file missing: %v", err)
	}
	if _, err := os.Stat(path + lookupSuffix); err != nil {
		t.Fatalf("lookup file missing: %v", err)
	}

	r, err := OpenRead(path)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	if r.TotalUncompressedBytes() != uint64(len(data)) {
		t.Fatalf("TotalUncompressedBytes = %d, want %d", r.TotalUncompressedBytes(), len(data))
	}

	got := make([]byte, len(data))
	if err := r.RandomRead(0, got); err != nil {
		t.Fatalf("RandomRead: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("RandomRead from 0 did not reproduce the original data")
	}

	mid := make([]byte, 30)
	if err := r.RandomRead(50, mid); err != nil {
		t.Fatalf("RandomRead(50): %v", err)
	}
	if !bytes.Equal(mid, data[50:80]) {
		t.Fatal("RandomRead at an interior offset did not match the source slice")
	}
}

func TestCompSizeSidecarWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segmented")

	w, err := OpenWrite(path, 16, true)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if err := w.Append(bytes.Repeat([]byte{0x42}, 40)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	info, err := os.Stat(path + compSizeSuffix)
	if err != nil {
		t.Fatalf("comp_size sidecar missing: %v", err)
	}
	// 40 bytes at a 16-byte buffer is 3 blocks (16, 16, 8), each a
	// compSizeEntrySize-byte (compressed_size, uncompressed_size) row.
	wantBlocks := int64(3)
	if info.Size() != wantBlocks*compSizeEntrySize {
		t.Fatalf("comp_size sidecar size = %d, want %d", info.Size(), wantBlocks*compSizeEntrySize)
	}
}

func TestOpenReadRejectsTruncatedLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad")
	w, err := OpenWrite(path, 16, false)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if err := w.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Truncate the lookup file below the trailer size to simulate corruption.
	lookupPath := path + lookupSuffix
	if err := truncateFile(lookupPath, 4); err != nil {
		t.Fatalf("truncateFile: %v", err)
	}
	if _, err := OpenRead(path); err == nil {
		t.Fatal("expected OpenRead to fail on a truncated lookup file")
	}
}

func TestBufferSizeMustBeMultipleOfEight(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenWrite(filepath.Join(dir, "x"), 15, false); err == nil {
		t.Fatal("expected error for non-multiple-of-8 buffer size")
	}
}

// TestOpenReadParsesExternallyProducedFile hand-builds a §6.2-conformant
// posting file byte-for-byte, without going through Writer, to confirm
// OpenRead and RandomRead parse the real external format rather than just
// this package's own round trip.
func TestOpenReadParsesExternallyProducedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "42.title")

	block0 := bytes.Repeat([]byte{0xAB}, 10)
	block1 := []byte{0x01, 0x02, 0x03}

	compress := func(raw []byte) []byte {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			t.Fatalf("flate.NewWriter: %v", err)
		}
		if _, err := fw.Write(raw); err != nil {
			t.Fatalf("flate write: %v", err)
		}
		if err := fw.Close(); err != nil {
			t.Fatalf("flate close: %v", err)
		}
		return buf.Bytes()
	}

	comp0 := compress(block0)
	comp1 := compress(block1)

	hitFile := append(append([]byte{}, comp0...), comp1...)
	if err := os.WriteFile(path+hitSuffix, hitFile, 0644); err != nil {
		t.Fatalf("writing hit file: %v", err)
	}

	var lookup bytes.Buffer
	entry0 := make([]byte, lookupEntrySize)
	binary.LittleEndian.PutUint64(entry0[0:8], uint64(len(comp0)))
	binary.LittleEndian.PutUint32(entry0[8:12], uint32(len(block0)))
	lookup.Write(entry0)

	entry1 := make([]byte, lookupEntrySize)
	binary.LittleEndian.PutUint64(entry1[0:8], uint64(len(comp0)+len(comp1)))
	binary.LittleEndian.PutUint32(entry1[8:12], uint32(len(block1)))
	lookup.Write(entry1)

	trailer := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint32(trailer[0:4], 2)                                // comp_block_count
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(block0)))              // buffer_size
	binary.LittleEndian.PutUint64(trailer[8:16], uint64(len(block0)+len(block1))) // total_uncompressed_bytes
	lookup.Write(trailer)

	if err := os.WriteFile(path+lookupSuffix, lookup.Bytes(), 0644); err != nil {
		t.Fatalf("writing lookup file: %v", err)
	}

	r, err := OpenRead(path)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	if r.BlockCount() != 2 {
		t.Fatalf("BlockCount = %d, want 2", r.BlockCount())
	}
	if r.TotalUncompressedBytes() != uint64(len(block0)+len(block1)) {
		t.Fatalf("TotalUncompressedBytes = %d, want %d", r.TotalUncompressedBytes(), len(block0)+len(block1))
	}

	got0 := make([]byte, len(block0))
	if err := r.RandomRead(0, got0); err != nil {
		t.Fatalf("RandomRead(0): %v", err)
	}
	if !bytes.Equal(got0, block0) {
		t.Fatal("RandomRead(0) did not reproduce block0")
	}

	got1 := make([]byte, len(block1))
	if err := r.RandomRead(uint64(len(block0)), got1); err != nil {
		t.Fatalf("RandomRead(len(block0)): %v", err)
	}
	if !bytes.Equal(got1, block1) {
		t.Fatal("RandomRead(len(block0)) did not reproduce block1")
	}
}
