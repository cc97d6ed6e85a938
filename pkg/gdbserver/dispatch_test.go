package gdbserver

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bitforge/swdprobe/pkg/core"
	"github.com/bitforge/swdprobe/pkg/mem"
)

// debug register addresses, mirrored from pkg/core/registers.go (unexported
// there) so this fake can model the halt/step handshake realistically: on
// real hardware these registers are reached through the very same MEM-AP
// this fake stands in for.
const (
	fakeAddrDHCSR     = 0xe000edf0
	fakeAddrDCRSR     = 0xe000edf4
	fakeAddrAIRCR     = 0xe000ed0c
	fakeDHCSRHalt     = 1 << 1
	fakeSHalt         = 1 << 17
	fakeSRegRdy       = 1 << 16
	fakeSResetSt      = 1 << 25
	fakeAircrSysReset = 1 << 2
)

// fakeDP is a flat word-addressed memory with byte/halfword lane steering
// for one core's MEM-AP, enough
// to back mem.Access for the dispatch tests, including enough of the
// DHCSR halt/resume/reset handshake for core.Context to drive it. A
// system reset pulses S_RESET_ST for exactly one DHCSR read, modeling the
// brief assert-then-clear a real reset produces.
type fakeDP struct {
	words      map[uint32]uint32
	csw        uint32
	tar        uint32
	resetArmed bool
}

func newFakeDP() *fakeDP { return &fakeDP{words: map[uint32]uint32{}} }

func (f *fakeDP) SetMemCSW(apNum, value uint32) error { f.csw = value; return nil }

func (f *fakeDP) WriteAP(apNum, addr, value uint32) error {
	switch addr {
	case 0x04:
		f.tar = value
	case 0x0c:
		target := f.tar &^ 0x3
		switch f.csw & 0x3 {
		case 0: // byte: merge only the addressed lane
			mask := uint32(0xff) << ((f.tar & 0x3) * 8)
			f.words[target] = f.words[target]&^mask | value&mask
		case 1: // halfword
			mask := uint32(0xffff) << ((f.tar & 0x2) * 8)
			f.words[target] = f.words[target]&^mask | value&mask
		default:
			f.words[target] = value
		}
		switch target {
		case fakeAddrDHCSR:
			if value&fakeDHCSRHalt != 0 {
				f.words[target] |= fakeSHalt
			} else {
				f.words[target] &^= fakeSHalt
			}
			f.words[target] |= fakeSRegRdy
		case fakeAddrDCRSR:
			// Model the register transfer completing instantly: S_REGRDY
			// reads back set on the very next DHCSR read.
			f.words[fakeAddrDHCSR] |= fakeSRegRdy
		case fakeAddrAIRCR:
			if value&fakeAircrSysReset != 0 {
				f.words[fakeAddrDHCSR] |= fakeSResetSt
				f.resetArmed = true
			}
		}
		if f.csw&(1<<4) != 0 {
			f.tar += 4
		}
	}
	return nil
}

func (f *fakeDP) ReadAP(apNum, addr uint32) (uint32, error) {
	if addr == 0x0c {
		v := f.words[f.tar]
		if f.tar == fakeAddrDHCSR && f.resetArmed {
			f.resetArmed = false
			f.words[fakeAddrDHCSR] &^= fakeSResetSt
		}
		if f.csw&(1<<4) != 0 {
			f.tar += 4
		}
		return v, nil
	}
	return 0, nil
}

func (f *fakeDP) ReadAPDefer(apNum, addr uint32) (uint32, error) {
	v := f.words[f.tar]
	if f.csw&(1<<4) != 0 {
		f.tar += 4
	}
	return v, nil
}

func (f *fakeDP) ReadAPLast() (uint32, error) { return 0, nil }

type fakeSelector struct{ calls []uint32 }

func (f *fakeSelector) SelectCore(targetID uint32) error {
	f.calls = append(f.calls, targetID)
	return nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	dp0, dp1 := newFakeDP(), newFakeDP()
	macc0, macc1 := mem.New(dp0, 0), mem.New(dp1, 0)
	ctx0, ctx1 := core.New(macc0), core.New(macc1)
	ctrl := core.NewController([2]*core.Context{ctx0, ctx1}, [2]uint32{0x01002927, 0x11002927}, &fakeSelector{})
	return NewSession(ctrl, [2]*mem.Access{macc0, macc1}, nil, 0x4000)
}

func dispatchString(s *Session, pkt string) Outcome {
	return Dispatch(s, []byte(pkt))
}

func TestDispatchQSupportedAdvertisesPacketSize(t *testing.T) {
	s := newTestSession(t)
	out := dispatchString(s, "qSupported:multiprocess+")
	if !bytes.Contains(out.Reply, []byte("PacketSize=4000")) {
		t.Errorf("qSupported reply = %q, missing PacketSize", out.Reply)
	}
}

func TestDispatchNoAckMode(t *testing.T) {
	s := newTestSession(t)
	out := dispatchString(s, "QStartNoAckMode")
	if !bytes.Equal(out.Reply, OK()) {
		t.Errorf("QStartNoAckMode reply = %q, want OK", out.Reply)
	}
	if !s.NoAckMode {
		t.Error("NoAckMode not set")
	}
}

func TestDispatchMemoryReadWriteRoundTrip(t *testing.T) {
	s := newTestSession(t)

	writeOut := dispatchString(s, "M20000001,3:aabbcc")
	if !bytes.Equal(writeOut.Reply, OK()) {
		t.Fatalf("M reply = %q, want OK", writeOut.Reply)
	}

	readOut := dispatchString(s, "m20000001,3")
	want := FrameString("aabbcc")
	if !bytes.Equal(readOut.Reply, want) {
		t.Errorf("m reply = %q, want %q", readOut.Reply, want)
	}
}

func TestDispatchRegisterReadWrite(t *testing.T) {
	s := newTestSession(t)

	writeOut := dispatchString(s, "P0=efbeadde") // little-endian 0xdeadbeef
	if !bytes.Equal(writeOut.Reply, OK()) {
		t.Fatalf("P reply = %q, want OK", writeOut.Reply)
	}
	readOut := dispatchString(s, "p0")
	want := FrameString("efbeadde")
	if !bytes.Equal(readOut.Reply, want) {
		t.Errorf("p0 reply = %q, want %q", readOut.Reply, want)
	}
}

func TestDispatchSoftwareBreakpointRoundTrip(t *testing.T) {
	s := newTestSession(t)
	m, _ := s.currentMem()
	if err := m.WriteWord(0x20000000, 0x46c04770); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	setOut := dispatchString(s, "Z0,20000000,2")
	if !bytes.Equal(setOut.Reply, OK()) {
		t.Fatalf("Z0 reply = %q, want OK", setOut.Reply)
	}
	ctx, _ := s.currentCtx()
	if !ctx.SoftwareBreakpoints().Contains(0x20000000) {
		t.Error("expected software breakpoint to be tracked")
	}

	clearOut := dispatchString(s, "z0,20000000,2")
	if !bytes.Equal(clearOut.Reply, OK()) {
		t.Fatalf("z0 reply = %q, want OK", clearOut.Reply)
	}
	if ctx.SoftwareBreakpoints().Contains(0x20000000) {
		t.Error("expected software breakpoint to be cleared")
	}
}

func TestDispatchHSelectsThread(t *testing.T) {
	s := newTestSession(t)
	out := dispatchString(s, "Hg2")
	if !bytes.Equal(out.Reply, OK()) {
		t.Fatalf("Hg2 reply = %q, want OK", out.Reply)
	}
	if s.currentThread != 2 {
		t.Errorf("currentThread = %d, want 2", s.currentThread)
	}
	if s.Controller.Current() != 1 {
		t.Errorf("Controller.Current() = %d, want 1 (core for thread 2)", s.Controller.Current())
	}
}

func TestDispatchVContParsesPerCoreActions(t *testing.T) {
	s := newTestSession(t)
	out := dispatchString(s, "vCont;c:1;s:2")
	if !out.EnterRunLoop {
		t.Fatal("expected EnterRunLoop")
	}
	if out.RunSpec.Action[0] != ActionContinue {
		t.Errorf("core0 action = %v, want ActionContinue", out.RunSpec.Action[0])
	}
	if out.RunSpec.Action[1] != ActionStep {
		t.Errorf("core1 action = %v, want ActionStep", out.RunSpec.Action[1])
	}
}

func TestDispatchUnknownCommandIsEmpty(t *testing.T) {
	s := newTestSession(t)
	out := dispatchString(s, "qSomeUnknownThing")
	if !bytes.Equal(out.Reply, Empty()) {
		t.Errorf("unknown command reply = %q, want empty packet", out.Reply)
	}
}

func TestDispatchQSymbolRequestsAndStoresMain(t *testing.T) {
	s := newTestSession(t)

	out := dispatchString(s, "qSymbol::")
	want := FrameString("qSymbol:" + Hex([]byte("main")))
	if !bytes.Equal(out.Reply, want) {
		t.Fatalf("qSymbol:: reply = %q, want %q", out.Reply, want)
	}
	if !s.symbolRequested {
		t.Error("expected symbolRequested to be set")
	}

	// A second "qSymbol::" (e.g. a stray re-notification) shouldn't
	// re-request main.
	out = dispatchString(s, "qSymbol::")
	if !bytes.Equal(out.Reply, OK()) {
		t.Errorf("second qSymbol:: reply = %q, want OK", out.Reply)
	}

	out = dispatchString(s, "qSymbol:20000100:"+Hex([]byte("main")))
	if !bytes.Equal(out.Reply, OK()) {
		t.Fatalf("qSymbol value reply = %q, want OK", out.Reply)
	}
	if !s.mainKnown || s.mainAddr != 0x20000100 {
		t.Errorf("mainKnown=%v mainAddr=%#x, want true/0x20000100", s.mainKnown, s.mainAddr)
	}
}

func TestDispatchRcmdGetToMainWithoutSymbol(t *testing.T) {
	s := newTestSession(t)
	hexCmd := Hex([]byte("get_to_main"))
	out := dispatchString(s, "qRcmd,"+hexCmd)

	body := out.Reply[1 : len(out.Reply)-3]
	decoded, err := UnhexBytes(string(body))
	if err != nil {
		t.Fatalf("decode rcmd reply: %v", err)
	}
	if !strings.Contains(string(decoded), "main address unknown") {
		t.Errorf("rcmd reply = %q, want an unknown-main message", decoded)
	}
}

func TestDispatchRcmdResetHalt(t *testing.T) {
	s := newTestSession(t)
	hexCmd := Hex([]byte("reset halt"))
	out := dispatchString(s, "qRcmd,"+hexCmd)

	body := out.Reply[1 : len(out.Reply)-3] // strip '$' and trailing "#hh"
	decoded, err := UnhexBytes(string(body))
	if err != nil {
		t.Fatalf("decode rcmd reply: %v", err)
	}
	if !strings.Contains(string(decoded), "reset and halted") {
		t.Errorf("rcmd reply = %q, want a reset-and-halted confirmation", decoded)
	}
}
