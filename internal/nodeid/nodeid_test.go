package nodeid

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []NodeId{0, 1, 255, 256, 1 << 20, Max, Max - 1}
	for _, n := range cases {
		buf := n.Bytes()
		if len(buf) != Size {
			t.Fatalf("Bytes() length = %d, want %d", len(buf), Size)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%v) error: %v", buf, err)
		}
		if got != n {
			t.Errorf("round trip: got %d, want %d", got, n)
		}
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short buffer, got nil")
	}
}

func TestMaxSentinel(t *testing.T) {
	if !Max.IsMax() {
		t.Error("Max.IsMax() = false, want true")
	}
	if NodeId(0).IsMax() {
		t.Error("0.IsMax() = true, want false")
	}
	if !Max.Valid() {
		t.Error("Max.Valid() = false, want true")
	}
}

func TestCompare(t *testing.T) {
	if Compare(1, 2) != -1 {
		t.Error("Compare(1, 2) != -1")
	}
	if Compare(2, 1) != 1 {
		t.Error("Compare(2, 1) != 1")
	}
	if Compare(5, 5) != 0 {
		t.Error("Compare(5, 5) != 0")
	}
}

func TestEncodeLittleEndian(t *testing.T) {
	buf := make([]byte, Size)
	Encode(buf, 0x0102030405)
	want := []byte{0x05, 0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, buf[i], want[i])
		}
	}
}
