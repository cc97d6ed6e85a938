package dap

import (
	"fmt"

	"github.com/bitforge/swdprobe/pkg/wire"
)

// Connect brings up a debug port on the given multi-drop target: wake from
// dormant, line reset, target-select to targetID, a trailing zero run, a
// DP IDR read (which must be the first transaction after target-select),
// and a sticky-error clear. It returns a DebugPort ready for PowerUp.
func Connect(tr *wire.Transceiver, targetID uint32, waitRetries int) (dp *DebugPort, idr uint32, err error) {
	if err := tr.WakeFromDormant(); err != nil {
		return nil, 0, fmt.Errorf("dap: wake from dormant: %w", err)
	}
	if err := tr.LineReset(); err != nil {
		return nil, 0, fmt.Errorf("dap: line reset: %w", err)
	}
	if err := tr.TargetSelect(targetID); err != nil {
		return nil, 0, fmt.Errorf("dap: target select: %w", err)
	}
	if err := tr.SendBits(0, 20); err != nil {
		return nil, 0, fmt.Errorf("dap: post-select idle bits: %w", err)
	}

	dp = NewDebugPort(tr, waitRetries)

	idr, err = dp.ReadDP(0x0) // DPIDR must be read first, before any other DP access
	if err != nil {
		return nil, 0, fmt.Errorf("dap: read DPIDR: %w", err)
	}
	if err := dp.ClearStickyErrors(); err != nil {
		return nil, 0, fmt.Errorf("dap: clear sticky errors: %w", err)
	}
	return dp, idr, nil
}

// SelectCore re-targets an already-connected multi-drop link at a
// different per-core TARGETSEL identifier: line reset, target-select,
// idle run, DPIDR read, then a DLPIDR read whose top nibble (TINSTANCE)
// must match targetID's top nibble, confirming the intended core answered
// rather than a stale selection from before the reset. dp's SELECT and
// CSW caches belong to whichever core dp itself represents; callers
// switching between cores keep one DebugPort per core rather than
// reusing a single DebugPort across SelectCore calls.
func SelectCore(tr *wire.Transceiver, dp *DebugPort, targetID uint32) error {
	if err := tr.LineReset(); err != nil {
		return fmt.Errorf("dap: select core: line reset: %w", err)
	}
	if err := tr.TargetSelect(targetID); err != nil {
		return fmt.Errorf("dap: select core: target select: %w", err)
	}
	if err := tr.SendBits(0, 20); err != nil {
		return fmt.Errorf("dap: select core: post-select idle bits: %w", err)
	}

	dp.selectCache = 0xffffffff
	dp.InvalidateMemCSW()

	if _, err := dp.ReadDP(0x0); err != nil {
		return fmt.Errorf("dap: select core: read DPIDR: %w", err)
	}
	dlpidr, err := dp.ReadDP(RegDLPIDR)
	if err != nil {
		return fmt.Errorf("dap: select core: read DLPIDR: %w", err)
	}
	wantInstance := targetID >> 28
	gotInstance := dlpidr >> 28
	if gotInstance != wantInstance {
		return fmt.Errorf("dap: select core: DLPIDR instance 0x%x does not match target 0x%x", gotInstance, wantInstance)
	}
	return dp.ClearStickyErrors()
}
