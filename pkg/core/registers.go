// Package core implements CPU debug control on top of the memory access
// layer: the Cortex-M debug register block (DHCSR/DCRSR/DCRDR/DEMCR/AIRCR),
// halt/resume/step, register read/write, hardware and software breakpoints,
// reset-and-halt via vector catch, and the RP2040 ROM function trampoline
// used to call bootrom routines (flash programming, in particular) while
// the target is halted.
package core

// Debug Control Block and NVIC register addresses common to every
// Cortex-M0+ core.
const (
	addrDHCSR = 0xe000edf0
	addrDCRSR = 0xe000edf4
	addrDCRDR = 0xe000edf8
	addrDEMCR = 0xe000edfc
	addrAIRCR = 0xe000ed0c
)

const (
	dhcsrDebugKey  = 0xa05f << 16
	dhcsrCDebugEn  = 1 << 0
	dhcsrCHalt     = 1 << 1
	dhcsrCStep     = 1 << 2
	dhcsrCMaskInts = 1 << 3
	dhcsrSRegRdy   = 1 << 16
	dhcsrSHalt     = 1 << 17
	dhcsrSResetSt  = 1 << 25

	demcrVCCoreReset = 1 << 0
	demcrDWTEna      = 1 << 24

	aircrVectKey   = 0x05fa << 16
	aircrSysResetR = 1 << 2

	regWriteBit = 1 << 16
)
