package core

import "fmt"

// bkptInstruction is the Thumb BKPT #0 encoding patched in for a software
// breakpoint.
const bkptInstruction = 0xbe00

// SoftwareBreakpoints tracks addresses where the original halfword has been
// replaced with a BKPT instruction, in insertion order, so they can be
// walked deterministically (e.g. to report or restore all of them). A
// lookup table keyed by address backs membership tests; iteration walks
// the order slice with range, which always advances — an earlier traversal
// written as a hand-rolled loop could stall on one entry without moving to
// the next if the removal branch forgot to bump its index, so this always
// goes through range instead of manual indexing.
type SoftwareBreakpoints struct {
	mem   Memory
	order []uint32
	saved map[uint32]uint16
}

// NewSoftwareBreakpoints returns an empty set backed by mem for patching.
func NewSoftwareBreakpoints(mem Memory) *SoftwareBreakpoints {
	return &SoftwareBreakpoints{mem: mem, saved: map[uint32]uint16{}}
}

// Set installs a software breakpoint at addr, saving the original
// instruction halfword. Setting an address that already has one is a
// no-op.
func (s *SoftwareBreakpoints) Set(addr uint32) error {
	addr = addr &^ 0x1
	if _, ok := s.saved[addr]; ok {
		return nil
	}
	orig, err := s.readHalfword(addr)
	if err != nil {
		return fmt.Errorf("core: read original instruction at 0x%x: %w", addr, err)
	}
	if err := s.writeHalfword(addr, bkptInstruction); err != nil {
		return fmt.Errorf("core: patch breakpoint at 0x%x: %w", addr, err)
	}
	s.saved[addr] = orig
	s.order = append(s.order, addr)
	return nil
}

// Clear removes the software breakpoint at addr, restoring the original
// instruction. Clearing an address with none set is a no-op.
func (s *SoftwareBreakpoints) Clear(addr uint32) error {
	addr = addr &^ 0x1
	orig, ok := s.saved[addr]
	if !ok {
		return nil
	}
	if err := s.writeHalfword(addr, orig); err != nil {
		return fmt.Errorf("core: restore instruction at 0x%x: %w", addr, err)
	}
	delete(s.saved, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Contains reports whether addr currently has a software breakpoint.
func (s *SoftwareBreakpoints) Contains(addr uint32) bool {
	_, ok := s.saved[addr&^0x1]
	return ok
}

// Addresses returns every currently set software breakpoint address, in
// insertion order.
func (s *SoftwareBreakpoints) Addresses() []uint32 {
	out := make([]uint32, len(s.order))
	copy(out, s.order)
	return out
}

// ClearAll restores every patched instruction, e.g. before a disconnect.
func (s *SoftwareBreakpoints) ClearAll() error {
	for _, addr := range s.Addresses() {
		if err := s.Clear(addr); err != nil {
			return err
		}
	}
	return nil
}

func (s *SoftwareBreakpoints) readHalfword(addr uint32) (uint16, error) {
	word, err := s.mem.ReadWord(addr &^ 0x3)
	if err != nil {
		return 0, err
	}
	if addr&0x2 != 0 {
		return uint16(word >> 16), nil
	}
	return uint16(word), nil
}

func (s *SoftwareBreakpoints) writeHalfword(addr uint32, value uint16) error {
	word, err := s.mem.ReadWord(addr &^ 0x3)
	if err != nil {
		return err
	}
	if addr&0x2 != 0 {
		word = (word & 0x0000ffff) | (uint32(value) << 16)
	} else {
		word = (word & 0xffff0000) | uint32(value)
	}
	return s.mem.WriteWord(addr&^0x3, word)
}
