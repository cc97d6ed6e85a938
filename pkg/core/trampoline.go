package core

import "fmt"

const (
	bootromMagicAddr  = 0x00000010
	bootromMagicValue = 0x01754d // 'M', 'u', version 1

	regPC = 15
	regLR = 14
	regR7 = 7
	regSP = 13

	xpsrThumbBit = 1 << 24
)

// TrampolineConfig supplies the parts of the ROM-call trampoline that
// cannot be derived from the target itself: the stack pointer the called
// function will run on. An earlier firmware revision hard-coded this to a
// single fixed SRAM address appropriate only for its own linker script;
// callers here must supply one that fits their target's memory map.
type TrampolineConfig struct {
	StackPointer uint32
}

// Trampoline finds and invokes RP2040 bootrom functions by their 2-character
// tag (e.g. "RE" for flash_range_erase), using the bootrom's own
// function-table lookup and a small entry/exit trampoline it exposes for
// exactly this purpose.
type Trampoline struct {
	ctx    *Context
	cfg    TrampolineConfig
	looked map[[2]byte]uint32

	entryAddr uint32
	exitAddr  uint32
	resolved  bool
}

// NewTrampoline returns a Trampoline driving ROM calls through ctx.
func NewTrampoline(ctx *Context, cfg TrampolineConfig) *Trampoline {
	return &Trampoline{ctx: ctx, cfg: cfg, looked: map[[2]byte]uint32{}}
}

// FindFunc looks up the ROM function tagged by two ASCII characters,
// returning its entry address, or 0 if the tag is not present in the
// bootrom's function table.
func (t *Trampoline) FindFunc(ch1, ch2 byte) (uint32, error) {
	if addr, ok := t.looked[[2]byte{ch1, ch2}]; ok {
		return addr, nil
	}

	magic, err := t.ctx.mem.ReadWord(bootromMagicAddr)
	if err != nil {
		return 0, fmt.Errorf("core: read bootrom magic: %w", err)
	}
	if magic&0xffffff != bootromMagicValue {
		return 0, fmt.Errorf("core: bootrom magic mismatch, got 0x%x", magic&0xffffff)
	}

	tableWord, err := t.ctx.mem.ReadWord(bootromMagicAddr + 4)
	if err != nil {
		return 0, fmt.Errorf("core: read bootrom table pointer: %w", err)
	}
	tableAddr := tableWord & 0xffff

	tag := uint32(ch1) | uint32(ch2)<<8
	for {
		entry, err := t.ctx.mem.ReadWord(tableAddr)
		if err != nil {
			return 0, fmt.Errorf("core: read bootrom table entry: %w", err)
		}
		candidateTag := entry & 0xffff
		if candidateTag == tag {
			addr := (entry >> 16) & 0xffff
			t.looked[[2]byte{ch1, ch2}] = addr
			return addr, nil
		}
		if candidateTag == 0 {
			return 0, nil
		}
		tableAddr += 4
	}
}

func (t *Trampoline) resolveEntryExit() error {
	if t.resolved {
		return nil
	}
	entry, err := t.FindFunc('D', 'T')
	if err != nil {
		return err
	}
	exit, err := t.FindFunc('D', 'E')
	if err != nil {
		return err
	}
	if entry == 0 || exit == 0 {
		return fmt.Errorf("core: bootrom trampoline entry/exit not found")
	}
	t.entryAddr, t.exitAddr = entry, exit
	t.resolved = true
	return nil
}

// Call invokes the ROM function at addr with up to 4 arguments, via the
// bootrom's own entry/exit trampoline, and returns r0 on completion.
func (t *Trampoline) Call(addr uint32, args ...uint32) (uint32, error) {
	if len(args) > 4 {
		return 0, fmt.Errorf("core: trampoline call takes at most 4 arguments, got %d", len(args))
	}
	if err := t.resolveEntryExit(); err != nil {
		return 0, err
	}

	if err := t.ctx.WriteReg(regR7, addr); err != nil {
		return 0, fmt.Errorf("core: stage target function address: %w", err)
	}
	for i, a := range args {
		if err := t.ctx.WriteReg(uint32(i), a); err != nil {
			return 0, fmt.Errorf("core: stage argument %d: %w", i, err)
		}
	}
	if err := t.ctx.WriteReg(regSP, t.cfg.StackPointer); err != nil {
		return 0, fmt.Errorf("core: stage stack pointer: %w", err)
	}
	if err := t.ctx.WriteReg(regLR, t.exitAddr); err != nil {
		return 0, fmt.Errorf("core: stage return address: %w", err)
	}
	if err := t.ctx.WriteReg(regPC, t.entryAddr); err != nil {
		return 0, fmt.Errorf("core: stage program counter: %w", err)
	}
	// xPSR's Thumb bit must be set or the core takes a usage fault on
	// the very first fetch.
	if err := t.ctx.WriteReg(16, xpsrThumbBit); err != nil {
		return 0, fmt.Errorf("core: stage xPSR: %w", err)
	}

	// Interrupts stay masked across the call, matching
	// core_unhalt_with_masked_ints(): an ISR firing mid-ROM-call on a
	// borrowed stack would be unrecoverable.
	if err := t.ctx.ResumeMaskedInterrupts(); err != nil {
		return 0, fmt.Errorf("core: resume into trampoline: %w", err)
	}
	if err := t.ctx.pollDHCSR(dhcsrSHalt, true, "trampoline call to halt on return"); err != nil {
		return 0, err
	}
	t.ctx.invalidateRegCache()
	t.ctx.runState = Halted
	t.ctx.haltReason = ReasonBreakpoint

	return t.ctx.ReadReg(0)
}
