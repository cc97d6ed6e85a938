// Package dap implements the Debug Port / Access Port transaction layer:
// SELECT register caching, DP register access, AP register access
// (including the deferred-read pipeline), and the power-up sequence.
package dap

import (
	"fmt"

	"github.com/bitforge/swdprobe/pkg/wire"
)

// DP register addresses (bits [3:2] of the request, APnDP=0).
const (
	RegAbort    = 0x0
	RegCtrlStat = 0x4
	RegSelect   = 0x8
	RegRdBuff   = 0xc

	// RegDLPIDR lives in DP bank 3 at low-nibble offset 0x4, aliasing
	// CTRL/STAT's address with the bank selected; its top nibble carries
	// the TINSTANCE field a multi-drop target sets per core.
	RegDLPIDR = 0x34
)

const (
	allErrClr      = 0x1e
	cdbgPwrUpReq   = 1 << 28
	csysPwrUpReq   = 1 << 30
	cdbgPwrUpAck   = 1 << 29
	csysPwrUpAck   = 1 << 31
	swdErrorsMask  = 0x000000e0
	powerOnRetries = 10
)

// Raw is the transaction engine a DebugPort drives: a single-shot request
// that never retries WAIT itself. wire.Transceiver satisfies this.
type Raw interface {
	RawTransactionRead(apNdp bool, addr2_3 uint8) (uint32, error)
	RawTransactionWrite(apNdp bool, addr2_3 uint8, value uint32) error
}

// DebugPort drives the SELECT-cached DP/AP transaction layer on top of a
// Raw transceiver. A WAIT outcome is retried here, up to WaitRetries times,
// without touching the cached SELECT state.
type DebugPort struct {
	raw         Raw
	waitRetries int

	selectCache uint32 // 0xffffffff means "unknown, must write on first use"
	apMemCSW    uint32
}

// NewDebugPort returns a DebugPort driving raw, retrying a WAIT
// acknowledgement up to waitRetries times before surfacing it.
func NewDebugPort(raw Raw, waitRetries int) *DebugPort {
	return &DebugPort{
		raw:         raw,
		waitRetries: waitRetries,
		selectCache: 0xffffffff,
		apMemCSW:    0xffffffff,
	}
}

func (d *DebugPort) readRetrying(apNdp bool, addr2_3 uint8) (uint32, error) {
	var lastErr error
	for attempt := 0; attempt <= d.waitRetries; attempt++ {
		v, err := d.raw.RawTransactionRead(apNdp, addr2_3)
		if err == nil {
			return v, nil
		}
		if !wire.IsWait(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (d *DebugPort) writeRetrying(apNdp bool, addr2_3 uint8, value uint32) error {
	var lastErr error
	for attempt := 0; attempt <= d.waitRetries; attempt++ {
		err := d.raw.RawTransactionWrite(apNdp, addr2_3, value)
		if err == nil {
			return nil
		}
		if !wire.IsWait(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (d *DebugPort) selectDPBank(bank uint32) error {
	if (d.selectCache & 0xf) == bank {
		return nil
	}
	d.selectCache = (d.selectCache &^ 0xf) | bank
	return d.writeRetrying(false, RegSelect, d.selectCache)
}

func (d *DebugPort) selectAPBank(ap, bank uint32) error {
	if (d.selectCache>>24) == ap && (d.selectCache&0xf0) == bank {
		return nil
	}
	d.selectCache = (ap << 24) | bank | (d.selectCache & 0xf)
	return d.writeRetrying(false, RegSelect, d.selectCache)
}

// ReadDP reads a DP register, switching the cached DP bank first if addr
// is a banked register (low nibble 0x4, i.e. CTRL/STAT's alias).
func (d *DebugPort) ReadDP(addr uint32) (uint32, error) {
	if (addr & 0xf) == 0x4 {
		if err := d.selectDPBank((addr & 0xf0) >> 4); err != nil {
			return 0, err
		}
	}
	return d.readRetrying(false, uint8(addr&0xc))
}

// WriteDP writes a DP register, switching the cached DP bank first if
// needed.
func (d *DebugPort) WriteDP(addr, value uint32) error {
	if (addr & 0xf) == 0x4 {
		if err := d.selectDPBank((addr & 0xf0) >> 4); err != nil {
			return err
		}
	}
	return d.writeRetrying(false, uint8(addr&0xc), value)
}

// PowerUp drives the DP power-up handshake: CDBGPWRUPREQ|CSYSPWRUPREQ,
// polling CTRL/STAT until both acks are set and no sticky error bits are
// present, retrying up to 10 times.
func (d *DebugPort) PowerUp() error {
	for i := 0; i < powerOnRetries; i++ {
		if err := d.WriteDP(RegCtrlStat, cdbgPwrUpReq|csysPwrUpReq); err != nil {
			continue
		}
		rv, err := d.ReadDP(RegCtrlStat)
		if err != nil {
			continue
		}
		if rv&swdErrorsMask != 0 {
			continue
		}
		if rv&cdbgPwrUpAck == 0 || rv&csysPwrUpAck == 0 {
			continue
		}
		return nil
	}
	return fmt.Errorf("dap: power-up handshake did not complete after %d attempts", powerOnRetries)
}

// ClearStickyErrors writes ALLERRCLR to ABORT, as required right after
// dp_initialise's line-reset/target-select/IDR-read sequence.
func (d *DebugPort) ClearStickyErrors() error {
	return d.WriteDP(RegAbort, allErrClr)
}

// ReadAP reads an AP register: select AP+bank, issue the read (result
// lands in RDBUFF on the next transaction), then read RDBUFF.
func (d *DebugPort) ReadAP(apNum uint32, addr uint32) (uint32, error) {
	if err := d.selectAPBank(apNum, addr&0xf0); err != nil {
		return 0, err
	}
	if _, err := d.readRetrying(true, uint8(addr&0xc)); err != nil {
		return 0, err
	}
	return d.readRetrying(false, RegRdBuff)
}

// ReadAPDefer selects AP+bank and issues a read. The AP pipelines reads one
// deep: the word returned here is the result of the *previous* ReadAPDefer
// call on this pipeline, not the one just issued (undefined on the first
// call). The caller must follow a chain of ReadAPDefer calls with
// ReadAPLast to retrieve the final pending value.
func (d *DebugPort) ReadAPDefer(apNum uint32, addr uint32) (uint32, error) {
	if err := d.selectAPBank(apNum, addr&0xf0); err != nil {
		return 0, err
	}
	return d.readRetrying(true, uint8(addr&0xc))
}

// ReadAPLast retrieves the result of the most recent ReadAPDefer call.
func (d *DebugPort) ReadAPLast() (uint32, error) {
	return d.readRetrying(false, RegRdBuff)
}

// WriteAP writes an AP register: select AP+bank, then issue the write.
func (d *DebugPort) WriteAP(apNum uint32, addr, value uint32) error {
	if err := d.selectAPBank(apNum, addr&0xf0); err != nil {
		return err
	}
	return d.writeRetrying(true, uint8(addr&0xc), value)
}

// SetMemCSW writes the MEM-AP CSW register only when it differs from the
// cached value, avoiding a redundant AP write on every memory access.
func (d *DebugPort) SetMemCSW(apNum uint32, value uint32) error {
	if d.apMemCSW == value {
		return nil
	}
	if err := d.WriteAP(apNum, 0x00, value); err != nil {
		return err
	}
	d.apMemCSW = value
	return nil
}

// InvalidateMemCSW forces the next SetMemCSW call to re-write the CSW
// register even if the value matches, for use after a line reset.
func (d *DebugPort) InvalidateMemCSW() {
	d.apMemCSW = 0xffffffff
}
