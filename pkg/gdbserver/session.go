package gdbserver

import (
	"fmt"

	"github.com/bitforge/swdprobe/pkg/core"
	"github.com/bitforge/swdprobe/pkg/flash"
	"github.com/bitforge/swdprobe/pkg/mem"
)

// numCoreRegisters is the Cortex-M0+ register set GDB's g/p/P commands
// expect: r0-r12, sp, lr, pc, xpsr.
const numCoreRegisters = 17

const (
	regSP   = 13
	regLR   = 14
	regPC   = 15
	regXPSR = 16
)

// This target has no real signal delivery; stop replies borrow the two
// POSIX signal numbers GDB's remote protocol conventionally uses to tell
// a breakpoint/step trap apart from an operator-requested interrupt.
const (
	sigTrap = 5 // SIGTRAP: breakpoint, step, reset-halt, watchpoint, exception catch
	sigInt  = 2 // SIGINT: DebugRequest (an explicit halt request, e.g. a 0x03 byte)
)

// signalForHaltReason maps a CoreContext's last halt reason to the GDB
// stop-reply signal number (spec.md §4.5.4/§4.5 seed scenarios 5-6:
// Breakpoint -> 0x05, DebugRequest -> 0x02).
func signalForHaltReason(r core.HaltReason) int {
	if r == core.ReasonDebugReq {
		return sigInt
	}
	return sigTrap
}

// Session holds everything one connected GDB client's command stream acts
// on: the dual-core controller, one memory-access layer per core (each
// bound to that core's own MEM-AP/DebugPort), and the per-connection
// protocol state (no-ack mode, negotiated packet size, current thread).
type Session struct {
	Controller *core.Controller
	Mem        [2]*mem.Access
	Flash      *flash.Programmer

	PacketSize int
	NoAckMode  bool

	// currentThread follows GDB's 1-based thread numbering: 1 is core 0,
	// 2 is core 1. 0 means "any thread", used only transiently.
	currentThread int

	// symbolRequested tracks whether "main" has already been asked for
	// via qSymbol, so the exchange only happens once per connection.
	symbolRequested bool
	// mainAddr holds the address GDB resolved "main" to, once qSymbol's
	// round trip completes. mainKnown distinguishes "not yet resolved"
	// from a legitimately zero address.
	mainAddr  uint32
	mainKnown bool
}

// NewSession returns a Session ready to serve one connection, defaulting
// to thread 1 (core 0) selected, matching the bring-up order a fresh
// connection resets and halts in. fl may be nil if the caller doesn't
// want to support vFlash commands (e.g. a unit test dispatching only
// register/memory commands).
func NewSession(ctrl *core.Controller, mems [2]*mem.Access, fl *flash.Programmer, packetSize int) *Session {
	return &Session{
		Controller:    ctrl,
		Mem:           mems,
		Flash:         fl,
		PacketSize:    packetSize,
		currentThread: 1,
	}
}

func threadToCore(tid int) (int, error) {
	switch tid {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	default:
		return 0, fmt.Errorf("gdbserver: unknown thread id %d", tid)
	}
}

func coreToThread(i int) int { return i + 1 }

// selectThread makes thread tid's core the wire-selected core.
func (s *Session) selectThread(tid int) error {
	idx, err := threadToCore(tid)
	if err != nil {
		return err
	}
	return s.Controller.SelectCore(idx)
}

// currentCoreIndex returns the core index backing the current thread.
func (s *Session) currentCoreIndex() int {
	idx, _ := threadToCore(s.currentThread)
	return idx
}

// currentCtx returns the core.Context for the current thread, first
// making sure its core is the one selected on the wire.
func (s *Session) currentCtx() (*core.Context, error) {
	idx := s.currentCoreIndex()
	if err := s.Controller.SelectCore(idx); err != nil {
		return nil, err
	}
	return s.Controller.Context(idx), nil
}

// currentMem returns the mem.Access for the current thread's core, first
// selecting that core on the wire.
func (s *Session) currentMem() (*mem.Access, error) {
	idx := s.currentCoreIndex()
	if err := s.Controller.SelectCore(idx); err != nil {
		return nil, err
	}
	return s.Mem[idx], nil
}

// readAllRegisters returns the 17-register set GDB's 'g' command wants,
// each word little-endian.
func (s *Session) readAllRegisters() ([]byte, error) {
	ctx, err := s.currentCtx()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, numCoreRegisters*4)
	for i := 0; i < numCoreRegisters; i++ {
		v, err := ctx.ReadReg(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("gdbserver: read register %d: %w", i, err)
		}
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return out, nil
}

func (s *Session) readRegister(n int) (uint32, error) {
	ctx, err := s.currentCtx()
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= numCoreRegisters {
		return 0, fmt.Errorf("gdbserver: register index %d out of range", n)
	}
	return ctx.ReadReg(uint32(n))
}

func (s *Session) writeRegister(n int, v uint32) error {
	ctx, err := s.currentCtx()
	if err != nil {
		return err
	}
	if n < 0 || n >= numCoreRegisters {
		return fmt.Errorf("gdbserver: register index %d out of range", n)
	}
	return ctx.WriteReg(uint32(n), v)
}
