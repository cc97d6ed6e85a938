// Package mem implements the memory access layer on top of a MEM-AP:
// byte/halfword/word reads and writes via lane steering, block transfers
// that re-seed TAR at each 1KiB boundary (the MEM-AP's auto-increment
// wraps there), and a small FIFO read cache for addresses below the
// peripheral region.
package mem

import "fmt"

// DebugPort is the subset of *dap.DebugPort the memory layer drives.
type DebugPort interface {
	ReadAP(apNum, addr uint32) (uint32, error)
	ReadAPDefer(apNum, addr uint32) (uint32, error)
	ReadAPLast() (uint32, error)
	WriteAP(apNum, addr, value uint32) error
	SetMemCSW(apNum, value uint32) error
}

// MEM-AP register offsets within the AP's own address space.
const (
	regCSW = 0x00
	regTAR = 0x04
	regDRW = 0x0c
)

// CSW size-field encodings for the Size[2:0] bits (ADIv5 MEM-AP).
const (
	cswSize8  = 0
	cswSize16 = 1
	cswSize32 = 2
)

// cswBase is DbgSwEnable, AHB master "privileged" (HPROT1), with no
// transfer size or increment mode of its own; every CSW value below ORs
// in a size and an increment bit on top of it.
const cswBase = (1 << 31) | (1 << 29) | (1 << 25)

// CSW bit patterns: single 32-bit transfers with and without post-access
// address auto-increment, and single byte/halfword transfers for the
// hardware lane-steering WriteByte/WriteHalfword use instead of a
// read-modify-write (spec.md §4.3) — a byte/halfword-wide MMIO register
// can have read or write side effects (e.g. write-1-to-clear status
// bits) that a read-before-write would trigger spuriously.
const (
	cswSingle   = cswBase | (0 << 4) | cswSize32
	cswInc      = cswBase | (1 << 4) | cswSize32
	cswSingle8  = cswBase | (0 << 4) | cswSize8
	cswSingle16 = cswBase | (0 << 4) | cswSize16
)

// tarWrapBytes is the address span the MEM-AP's TAR auto-increment wraps
// within; a block transfer crossing this boundary must re-seed TAR rather
// than rely on the AP to keep incrementing across it.
const tarWrapBytes = 1024

const apNum = 0 // the MEM-AP is always AP index 0 on this target family

// Access is the memory access layer for a single MEM-AP.
type Access struct {
	dp DebugPort

	cache      map[uint32]uint32
	cacheOrder []uint32
	cacheCap   int
}

// New returns an Access driving the MEM-AP on dp, with a read cache holding
// up to cacheCap recently read words (0 disables the cache).
func New(dp DebugPort, cacheCap int) *Access {
	return &Access{
		dp:       dp,
		cache:    map[uint32]uint32{},
		cacheCap: cacheCap,
	}
}

func alignDown(addr uint32) uint32 {
	return addr &^ 0x3
}

func (a *Access) cacheInvalidate(addr uint32) {
	if a.cacheCap == 0 {
		return
	}
	delete(a.cache, alignDown(addr))
}

func (a *Access) cacheLookup(addr uint32) (uint32, bool) {
	if a.cacheCap == 0 {
		return 0, false
	}
	v, ok := a.cache[alignDown(addr)]
	return v, ok
}

// cacheStore records value for addr. Addresses at or above 0x40000000
// (peripherals and the system/debug register block, where a read can
// return a different value each time) are never cached.
func (a *Access) cacheStore(addr, value uint32) {
	if a.cacheCap == 0 || addr >= 0x40000000 {
		return
	}
	key := alignDown(addr)
	if _, exists := a.cache[key]; !exists {
		if len(a.cacheOrder) >= a.cacheCap {
			oldest := a.cacheOrder[0]
			a.cacheOrder = a.cacheOrder[1:]
			delete(a.cache, oldest)
		}
		a.cacheOrder = append(a.cacheOrder, key)
	}
	a.cache[key] = value
}

// ReadWord reads a 32-bit word at a word-aligned address.
func (a *Access) ReadWord(addr uint32) (uint32, error) {
	addr = alignDown(addr)
	if v, ok := a.cacheLookup(addr); ok {
		return v, nil
	}
	if err := a.dp.SetMemCSW(apNum, cswSingle); err != nil {
		return 0, fmt.Errorf("mem: set csw: %w", err)
	}
	if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
		return 0, fmt.Errorf("mem: set tar: %w", err)
	}
	v, err := a.dp.ReadAP(apNum, regDRW)
	if err != nil {
		return 0, fmt.Errorf("mem: read drw: %w", err)
	}
	a.cacheStore(addr, v)
	return v, nil
}

// ReadHalfword reads a 16-bit halfword by reading the containing word and
// steering the correct 16-bit lane out of it.
func (a *Access) ReadHalfword(addr uint32) (uint16, error) {
	v, err := a.ReadWord(addr &^ 0x1)
	if err != nil {
		return 0, err
	}
	if addr&0x2 != 0 {
		return uint16(v >> 16), nil
	}
	return uint16(v), nil
}

// ReadByte reads a single byte by reading the containing word and steering
// the correct byte lane out of it.
func (a *Access) ReadByte(addr uint32) (byte, error) {
	v, err := a.ReadWord(addr)
	if err != nil {
		return 0, err
	}
	shift := (addr & 0x3) * 8
	return byte(v >> shift), nil
}

// WriteWord writes a 32-bit word at a word-aligned address.
func (a *Access) WriteWord(addr, value uint32) error {
	addr = alignDown(addr)
	if err := a.dp.SetMemCSW(apNum, cswSingle); err != nil {
		return fmt.Errorf("mem: set csw: %w", err)
	}
	if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
		return fmt.Errorf("mem: set tar: %w", err)
	}
	if err := a.dp.WriteAP(apNum, regDRW, value); err != nil {
		return fmt.Errorf("mem: write drw: %w", err)
	}
	a.cacheStore(addr, value)
	return nil
}

// WriteHalfword writes a 16-bit halfword through the CSW's Size=16 lane
// steering: a single transaction targeting only the addressed halfword,
// with no read of the containing word first.
func (a *Access) WriteHalfword(addr uint32, value uint16) error {
	if err := a.dp.SetMemCSW(apNum, cswSingle16); err != nil {
		return fmt.Errorf("mem: set csw: %w", err)
	}
	if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
		return fmt.Errorf("mem: set tar: %w", err)
	}
	v := uint32(value)
	if addr&0x2 != 0 {
		v <<= 16
	}
	if err := a.dp.WriteAP(apNum, regDRW, v); err != nil {
		return fmt.Errorf("mem: write drw: %w", err)
	}
	a.cacheInvalidate(addr)
	return nil
}

// WriteByte writes a single byte through the CSW's Size=8 lane steering: a
// single transaction targeting only the addressed byte, with no read of
// the containing word first.
func (a *Access) WriteByte(addr uint32, value byte) error {
	if err := a.dp.SetMemCSW(apNum, cswSingle8); err != nil {
		return fmt.Errorf("mem: set csw: %w", err)
	}
	if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
		return fmt.Errorf("mem: set tar: %w", err)
	}
	shift := (addr & 0x3) * 8
	if err := a.dp.WriteAP(apNum, regDRW, uint32(value)<<shift); err != nil {
		return fmt.Errorf("mem: write drw: %w", err)
	}
	a.cacheInvalidate(addr)
	return nil
}

// WriteBlock writes consecutive words starting at addr, re-seeding TAR at
// every 1KiB boundary and using the MEM-AP's auto-increment mode between
// re-seeds.
func (a *Access) WriteBlock(addr uint32, words []uint32) error {
	addr = alignDown(addr)
	if err := a.dp.SetMemCSW(apNum, cswInc); err != nil {
		return fmt.Errorf("mem: set csw: %w", err)
	}

	i := 0
	for i < len(words) {
		if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
			return fmt.Errorf("mem: seed tar: %w", err)
		}
		wordsToBoundary := int((tarWrapBytes - (addr % tarWrapBytes)) / 4)
		n := wordsToBoundary
		if remaining := len(words) - i; remaining < n {
			n = remaining
		}
		for j := 0; j < n; j++ {
			if err := a.dp.WriteAP(apNum, regDRW, words[i+j]); err != nil {
				return fmt.Errorf("mem: write drw: %w", err)
			}
			a.cacheStore(addr+uint32(j*4), words[i+j])
		}
		addr += uint32(n * 4)
		i += n
	}
	return nil
}

// ReadBlock reads count consecutive words starting at addr using the
// deferred-read pipeline (each transaction returns the previous result),
// re-seeding TAR at every 1KiB boundary.
func (a *Access) ReadBlock(addr uint32, count int) ([]uint32, error) {
	addr = alignDown(addr)
	if err := a.dp.SetMemCSW(apNum, cswInc); err != nil {
		return nil, fmt.Errorf("mem: set csw: %w", err)
	}

	out := make([]uint32, 0, count)
	remaining := count

	for remaining > 0 {
		if err := a.dp.WriteAP(apNum, regTAR, addr); err != nil {
			return nil, fmt.Errorf("mem: seed tar: %w", err)
		}
		wordsToBoundary := int((tarWrapBytes - (addr % tarWrapBytes)) / 4)
		n := wordsToBoundary
		if remaining < n {
			n = remaining
		}

		p := NewDeferredReader(a.dp, apNum, regDRW)
		for j := 0; j < n; j++ {
			if err := p.Next(); err != nil {
				return nil, fmt.Errorf("mem: deferred read: %w", err)
			}
		}
		values, err := p.Finish()
		if err != nil {
			return nil, fmt.Errorf("mem: finish deferred read: %w", err)
		}
		for j, v := range values {
			a.cacheStore(addr+uint32(j*4), v)
		}
		out = append(out, values...)

		addr += uint32(n * 4)
		remaining -= n
	}
	return out, nil
}
