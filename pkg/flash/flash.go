// Package flash drives RP2040 on-board QSPI flash programming for GDB's
// vFlashErase/vFlashWrite/vFlashDone sequence, entirely through the
// target's own bootrom ROM functions invoked via core.Trampoline: no
// flash-controller register knowledge lives here, only the ROM function
// tags and argument order the bootrom documents for exactly this purpose.
package flash

import "fmt"

// XIPBase is the address QSPI flash is mapped at for execute-in-place;
// ROM flash functions address flash by offset from this base, not by
// absolute address.
const XIPBase = 0x10000000

// Block erase parameters passed to the 'RE' (range_erase) ROM function:
// a 64KiB block size with the corresponding block-erase opcode. GDB's
// vFlashErase addresses may be smaller or misaligned; Erase rounds to
// whole blocks since that is what the target's flash chip can actually
// erase.
const (
	eraseBlockSize = 1 << 16
	eraseOpcode    = 0xd8
)

// scratchSize bounds how much of a single vFlashWrite chunk is staged
// into target RAM before one range_program call, keeping the scratch
// buffer small enough to fit comfortably below the trampoline's own
// stack.
const scratchSize = 1024

// Trampoline is the subset of *core.Trampoline the programmer drives.
type Trampoline interface {
	FindFunc(ch1, ch2 byte) (uint32, error)
	Call(addr uint32, args ...uint32) (uint32, error)
}

// Memory is the subset of *mem.Access used to stage write data into RAM
// ahead of a ROM range_program call.
type Memory interface {
	WriteBytes(addr uint32, data []byte) error
}

type chunk struct {
	addr uint32
	data []byte
}

type eraseRange struct {
	addr, length uint32
}

// Programmer buffers vFlashErase/vFlashWrite requests for one
// vFlashErase..vFlashDone sequence and drives the ROM calls that actually
// erase and program flash. It is not safe for concurrent use; a GDB
// session drives one flash update at a time.
type Programmer struct {
	tr          Trampoline
	mem         Memory
	scratchAddr uint32

	connected    bool
	pendingErase []eraseRange
	pending      []chunk
}

// NewProgrammer returns a Programmer that stages data through scratchAddr
// in target RAM before each ROM range_program call.
func NewProgrammer(tr Trampoline, mem Memory, scratchAddr uint32) *Programmer {
	return &Programmer{tr: tr, mem: mem, scratchAddr: scratchAddr}
}

func (p *Programmer) ensureConnected() error {
	if p.connected {
		return nil
	}
	connectAddr, err := p.tr.FindFunc('I', 'F')
	if err != nil || connectAddr == 0 {
		return fmt.Errorf("flash: connect_internal_flash (IF) not found in bootrom: %w", err)
	}
	if _, err := p.tr.Call(connectAddr); err != nil {
		return fmt.Errorf("flash: connect_internal_flash: %w", err)
	}
	exitXIPAddr, err := p.tr.FindFunc('E', 'X')
	if err != nil || exitXIPAddr == 0 {
		return fmt.Errorf("flash: exit_xip (EX) not found in bootrom: %w", err)
	}
	if _, err := p.tr.Call(exitXIPAddr); err != nil {
		return fmt.Errorf("flash: exit_xip: %w", err)
	}
	p.connected = true
	return nil
}

// eraseNow erases the flash blocks spanning [addr, addr+length), rounding
// outward to whole eraseBlockSize blocks since that is the smallest unit
// the flash chip can actually erase. This is the actual ROM call; Erase
// and RecordErase decide when it runs.
func (p *Programmer) eraseNow(addr, length uint32) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	reAddr, err := p.tr.FindFunc('R', 'E')
	if err != nil || reAddr == 0 {
		return fmt.Errorf("flash: range_erase (RE) not found in bootrom: %w", err)
	}

	offset := addr - XIPBase
	start := offset &^ (eraseBlockSize - 1)
	end := (offset + length + eraseBlockSize - 1) &^ (eraseBlockSize - 1)

	if _, err := p.tr.Call(reAddr, start, end-start, eraseBlockSize, eraseOpcode); err != nil {
		return fmt.Errorf("flash: range_erase at offset 0x%x: %w", start, err)
	}
	return nil
}

// Erase erases [addr, addr+length) immediately. This is for standalone,
// one-shot callers outside a GDB vFlash sequence (the CLI's erase/flash
// commands); a GDB session records its erase ranges with RecordErase
// instead, so the actual erase happens at Commit time alongside the rest
// of the vFlashDone sequence.
func (p *Programmer) Erase(addr, length uint32) error {
	return p.eraseNow(addr, length)
}

// RecordErase notes a flash range a GDB vFlashErase packet asked to have
// erased, without touching the target. The erase itself is deferred to
// Commit, run in the same connect/erase/program/flush sequence as
// vFlashDone, so a GDB session that erases without ever following up with
// vFlashWrite/vFlashDone leaves flash untouched.
func (p *Programmer) RecordErase(addr, length uint32) {
	p.pendingErase = append(p.pendingErase, eraseRange{addr: addr, length: length})
}

// Stage buffers data to be written at addr once Commit is called. GDB may
// send several vFlashWrite packets before one vFlashDone; flash
// programming itself only happens at Commit so writes that span an
// erased-but-not-yet-programmed region never race the erase.
func (p *Programmer) Stage(addr uint32, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.pending = append(p.pending, chunk{addr: addr, data: buf})
}

// Commit carries out every RecordErase range and then every staged write,
// via the ROM's range_erase/range_program functions, then flushes the XIP
// cache and re-enables execute-in-place, leaving the target ready to run
// from flash again. This is the vFlashDone sequence spec.md §4.5.5
// describes in full: connect, exit-XIP, range-erase, range-program,
// flush-cache, enter-cmd-XIP.
func (p *Programmer) Commit() error {
	if err := p.ensureConnected(); err != nil {
		return err
	}

	for _, r := range p.pendingErase {
		if err := p.eraseNow(r.addr, r.length); err != nil {
			return err
		}
	}
	p.pendingErase = nil

	rpAddr, err := p.tr.FindFunc('R', 'P')
	if err != nil || rpAddr == 0 {
		return fmt.Errorf("flash: range_program (RP) not found in bootrom: %w", err)
	}

	for _, c := range p.pending {
		addr := c.addr
		remaining := c.data
		for len(remaining) > 0 {
			n := len(remaining)
			if n > scratchSize {
				n = scratchSize
			}
			if err := p.mem.WriteBytes(p.scratchAddr, remaining[:n]); err != nil {
				return fmt.Errorf("flash: stage %d bytes at scratch 0x%x: %w", n, p.scratchAddr, err)
			}
			offset := addr - XIPBase
			if _, err := p.tr.Call(rpAddr, offset, p.scratchAddr, uint32(n)); err != nil {
				return fmt.Errorf("flash: range_program at offset 0x%x: %w", offset, err)
			}
			addr += uint32(n)
			remaining = remaining[n:]
		}
	}
	p.pending = nil

	fcAddr, err := p.tr.FindFunc('F', 'C')
	if err != nil || fcAddr == 0 {
		return fmt.Errorf("flash: flush_cache (FC) not found in bootrom: %w", err)
	}
	if _, err := p.tr.Call(fcAddr); err != nil {
		return fmt.Errorf("flash: flush_cache: %w", err)
	}
	cxAddr, err := p.tr.FindFunc('C', 'X')
	if err != nil || cxAddr == 0 {
		return fmt.Errorf("flash: enter_cmd_xip (CX) not found in bootrom: %w", err)
	}
	if _, err := p.tr.Call(cxAddr); err != nil {
		return fmt.Errorf("flash: enter_cmd_xip: %w", err)
	}

	p.connected = false
	return nil
}
