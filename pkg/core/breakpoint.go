package core

import "fmt"

// comparatorWord builds the FPB comparator value for addr: REPLACE
// (bits 31:30) selects which Thumb halfword of the comparand word to
// match on addr bit 1 (spec.md §4.4: "upper-halfword-match bit for
// address bit 1"), bits [28:2] hold the word-aligned address, and bit 0
// enables the slot.
func comparatorWord(addr uint32) uint32 {
	var replace uint32 = 0b01 << 30 // lower halfword
	if addr&0x2 != 0 {
		replace = 0b10 << 30 // upper halfword
	}
	return replace | (addr & 0x1ffffffc) | 1
}

// SetBreakpoint installs a hardware breakpoint at addr in the first free
// of the 4 FPB comparator slots. Setting a breakpoint that is already
// installed is a no-op.
func (c *Context) SetBreakpoint(addr uint32) error {
	addr = addr &^ 0x1

	for _, slot := range c.hardwareBPs {
		if slot.used && slot.addr == addr {
			return nil
		}
	}

	free := -1
	for i, slot := range c.hardwareBPs {
		if !slot.used {
			free = i
			break
		}
	}
	if free == -1 {
		return fmt.Errorf("core: no free hardware breakpoint slots")
	}

	if err := c.mem.WriteWord(hardwareBPRegs[free], comparatorWord(addr)); err != nil {
		return fmt.Errorf("core: set breakpoint at 0x%x: %w", addr, err)
	}
	if err := c.mem.WriteWord(bpcrAddr, (1<<1)|1); err != nil {
		return fmt.Errorf("core: enable breakpoint unit: %w", err)
	}
	c.hardwareBPs[free] = hardwareSlot{used: true, addr: addr}
	return nil
}

// ClearBreakpoint removes the hardware breakpoint at addr, if set. Clearing
// an address with no breakpoint is a no-op. The comparator register is
// written exactly once to disable the slot; an earlier firmware revision
// wrote the same disable value twice in a row, which was harmless but
// pointless.
func (c *Context) ClearBreakpoint(addr uint32) error {
	addr = addr &^ 0x1

	for i, slot := range c.hardwareBPs {
		if slot.used && slot.addr == addr {
			if err := c.mem.WriteWord(hardwareBPRegs[i], 0); err != nil {
				return fmt.Errorf("core: clear breakpoint at 0x%x: %w", addr, err)
			}
			c.hardwareBPs[i] = hardwareSlot{}
			return nil
		}
	}
	return nil
}

// IsBreakpointSet reports whether addr currently has a hardware breakpoint
// installed.
func (c *Context) IsBreakpointSet(addr uint32) bool {
	addr = addr &^ 0x1
	for _, slot := range c.hardwareBPs {
		if slot.used && slot.addr == addr {
			return true
		}
	}
	return false
}

// StepOverBreakpoint temporarily clears any hardware breakpoint at the
// current PC, single-steps, and restores it, so resuming from a breakpoint
// hit does not immediately re-trap on the same instruction. The comparator
// slot is disabled and re-armed in place rather than going through
// ClearBreakpoint/SetBreakpoint's first-free-slot search, so a lower-index
// slot that happens to be free in the meantime cannot steal pc's slot out
// from under it (spec.md §4.4: "must preserve the slot assignment").
func (c *Context) StepOverBreakpoint(pc uint32) error {
	pc = pc &^ 0x1

	slot := -1
	for i, s := range c.hardwareBPs {
		if s.used && s.addr == pc {
			slot = i
			break
		}
	}
	if slot == -1 {
		return c.Step()
	}

	if err := c.mem.WriteWord(hardwareBPRegs[slot], 0); err != nil {
		return fmt.Errorf("core: disable breakpoint slot %d for step-over: %w", slot, err)
	}
	stepErr := c.Step()
	if err := c.mem.WriteWord(hardwareBPRegs[slot], comparatorWord(pc)); err != nil {
		if stepErr != nil {
			return stepErr
		}
		return fmt.Errorf("core: re-arm breakpoint slot %d after step-over: %w", slot, err)
	}
	return stepErr
}
