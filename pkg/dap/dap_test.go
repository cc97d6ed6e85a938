package dap

import (
	"testing"

	"github.com/bitforge/swdprobe/pkg/wire"
)

// fakeRaw is a register-backed Raw double: writes land in a map keyed by
// (apNdp, addr), reads return whatever was last written there (zero value
// otherwise). waitUntil lets a test script a transient WAIT ack.
type fakeRaw struct {
	regs      map[rawKey]uint32
	waitUntil map[rawKey]int
	calls     []rawKey
}

type rawKey struct {
	apNdp bool
	addr  uint8
}

func newFakeRaw() *fakeRaw {
	return &fakeRaw{regs: map[rawKey]uint32{}, waitUntil: map[rawKey]int{}}
}

func (f *fakeRaw) RawTransactionRead(apNdp bool, addr uint8) (uint32, error) {
	k := rawKey{apNdp, addr}
	f.calls = append(f.calls, k)
	if f.waitUntil[k] > 0 {
		f.waitUntil[k]--
		return 0, &wire.BusError{Kind: wire.Wait}
	}
	return f.regs[k], nil
}

func (f *fakeRaw) RawTransactionWrite(apNdp bool, addr uint8, value uint32) error {
	k := rawKey{apNdp, addr}
	f.calls = append(f.calls, k)
	if f.waitUntil[k] > 0 {
		f.waitUntil[k]--
		return &wire.BusError{Kind: wire.Wait}
	}
	f.regs[k] = value
	return nil
}

func TestWriteDPThenReadDP(t *testing.T) {
	raw := newFakeRaw()
	dp := NewDebugPort(raw, 3)

	if err := dp.WriteDP(RegSelect, 0x12); err != nil {
		t.Fatalf("WriteDP: %v", err)
	}
	got, err := dp.ReadDP(RegSelect)
	if err != nil {
		t.Fatalf("ReadDP: %v", err)
	}
	if got != 0x12 {
		t.Errorf("ReadDP(SELECT) = 0x%x, want 0x12", got)
	}
}

func TestSelectSkippedWhenUnchanged(t *testing.T) {
	raw := newFakeRaw()
	dp := NewDebugPort(raw, 3)

	if err := dp.WriteAP(0, 0x00, 0xaa); err != nil {
		t.Fatalf("WriteAP 1: %v", err)
	}
	selectWritesAfterFirst := countWritesTo(raw.calls, rawKey{false, RegSelect})

	if err := dp.WriteAP(0, 0x04, 0xbb); err != nil {
		t.Fatalf("WriteAP 2: %v", err)
	}
	selectWritesAfterSecond := countWritesTo(raw.calls, rawKey{false, RegSelect})

	if selectWritesAfterSecond != selectWritesAfterFirst {
		t.Errorf("SELECT rewritten for an access with the same AP/bank: before=%d after=%d",
			selectWritesAfterFirst, selectWritesAfterSecond)
	}
}

func countWritesTo(calls []rawKey, k rawKey) int {
	n := 0
	for _, c := range calls {
		if c == k {
			n++
		}
	}
	return n
}

func TestRetriesOnWait(t *testing.T) {
	raw := newFakeRaw()
	raw.waitUntil[rawKey{false, RegSelect}] = 2
	dp := NewDebugPort(raw, 3)

	if err := dp.WriteDP(RegSelect, 0x5); err != nil {
		t.Fatalf("WriteDP should succeed after retries: %v", err)
	}
}

func TestWaitExhaustsRetries(t *testing.T) {
	raw := newFakeRaw()
	raw.waitUntil[rawKey{false, RegSelect}] = 100
	dp := NewDebugPort(raw, 2)

	err := dp.WriteDP(RegSelect, 0x5)
	if !wire.IsWait(err) {
		t.Fatalf("expected exhausted wait error, got %v", err)
	}
}

func TestReadAPDeferThenLast(t *testing.T) {
	raw := newFakeRaw()
	raw.regs[rawKey{false, RegRdBuff}] = 0xcafef00d
	dp := NewDebugPort(raw, 3)

	if _, err := dp.ReadAPDefer(0, 0x0c); err != nil {
		t.Fatalf("ReadAPDefer: %v", err)
	}
	got, err := dp.ReadAPLast()
	if err != nil {
		t.Fatalf("ReadAPLast: %v", err)
	}
	if got != 0xcafef00d {
		t.Errorf("ReadAPLast = 0x%x, want 0xcafef00d", got)
	}
}

func TestSetMemCSWDedup(t *testing.T) {
	raw := newFakeRaw()
	dp := NewDebugPort(raw, 3)

	if err := dp.SetMemCSW(0, 0x23000002); err != nil {
		t.Fatalf("SetMemCSW 1: %v", err)
	}
	n1 := len(raw.calls)
	if err := dp.SetMemCSW(0, 0x23000002); err != nil {
		t.Fatalf("SetMemCSW 2: %v", err)
	}
	if len(raw.calls) != n1 {
		t.Errorf("SetMemCSW issued a transaction for an unchanged value")
	}

	dp.InvalidateMemCSW()
	if err := dp.SetMemCSW(0, 0x23000002); err != nil {
		t.Fatalf("SetMemCSW after invalidate: %v", err)
	}
	if len(raw.calls) == n1 {
		t.Errorf("SetMemCSW skipped the write after InvalidateMemCSW")
	}
}

func TestPowerUpFailsAfterRetries(t *testing.T) {
	raw := newFakeRaw()
	dp := NewDebugPort(raw, 0)
	if err := dp.PowerUp(); err == nil {
		t.Fatal("expected PowerUp to fail when acks never come up")
	}
}
