package mem

import (
	"bytes"
	"testing"
)

func TestWriteBytesReadBytesRoundTripUnaligned(t *testing.T) {
	dp := newFakeDP()
	a := New(dp, 0)

	data := make([]byte, 23) // odd length, starts unaligned below
	for i := range data {
		data[i] = byte(i + 1)
	}
	const addr = 0x20000001 // deliberately not word-aligned

	if err := a.WriteBytes(addr, data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := a.ReadBytes(addr, len(data))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadBytes = % x, want % x", got, data)
	}
}

func TestWriteBytesDoesNotClobberNeighbors(t *testing.T) {
	dp := newFakeDP()
	a := New(dp, 0)

	if err := a.WriteWord(0x20000000, 0xffffffff); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := a.WriteWord(0x20000004, 0xffffffff); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}

	// Write 2 bytes spanning the boundary between the two words above,
	// exercising the head/tail single-lane byte write path.
	if err := a.WriteBytes(0x20000003, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	w0, _ := a.ReadWord(0x20000000)
	w1, _ := a.ReadWord(0x20000004)
	if w0 != 0x00ffffff {
		t.Errorf("word 0 = 0x%x, want 0x00ffffff", w0)
	}
	if w1 != 0xffffff00 {
		t.Errorf("word 1 = 0x%x, want 0xffffff00", w1)
	}
}

func TestReadBytesZeroLength(t *testing.T) {
	dp := newFakeDP()
	a := New(dp, 0)

	got, err := a.ReadBytes(0x20000000, 0)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadBytes(0) = %v, want empty", got)
	}
}
