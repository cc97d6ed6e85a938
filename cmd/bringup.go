package cmd

import (
	"fmt"

	"github.com/bitforge/swdprobe/pkg/config"
	"github.com/bitforge/swdprobe/pkg/core"
	"github.com/bitforge/swdprobe/pkg/dap"
	"github.com/bitforge/swdprobe/pkg/flash"
	"github.com/bitforge/swdprobe/pkg/mem"
	"github.com/bitforge/swdprobe/pkg/wire"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// memCacheWords bounds the per-core read cache, which drops its oldest
// entry first. Debug registers such as DHCSR lie above the cached address
// range, so core.Context's halt/step polls always reach the target.
const memCacheWords = 4

// target bundles everything bringUpTarget assembles: one Transceiver
// shared by both cores' multi-drop addresses, a Controller stepping
// between them, and a flash programmer driven through core 0's
// trampoline (the bootrom's flash routines run wherever they are called
// from; core 0 is as good as either).
type target struct {
	Controller *core.Controller
	Mem        [2]*mem.Access
	Trampoline *core.Trampoline
	Flash      *flash.Programmer
}

// coreSelector adapts dap.SelectCore to core.Controller's narrow Selector
// interface, picking the DebugPort whose cached SELECT/CSW state belongs
// to the requested multi-drop target id.
type coreSelector struct {
	tr       *wire.Transceiver
	dp       [2]*dap.DebugPort
	targetID [2]uint32
}

func (s *coreSelector) SelectCore(targetID uint32) error {
	for i, id := range s.targetID {
		if id == targetID {
			return dap.SelectCore(s.tr, s.dp[i], targetID)
		}
	}
	return fmt.Errorf("cmd: no debug port configured for target id 0x%x", targetID)
}

// bringUpTarget wakes the SWD link, connects to both cores' multi-drop
// addresses, powers up each one's debug power domain, and enables debug
// control, returning a target ready to drive a GDB session or a one-shot
// CLI command.
func bringUpTarget(cfg *config.Config) (*target, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("cmd: initialize GPIO host: %w", err)
	}

	clk := gpioreg.ByName(cfg.SWCLKPin)
	if clk == nil {
		return nil, fmt.Errorf("cmd: SWCLK pin %q not found", cfg.SWCLKPin)
	}
	dio := gpioreg.ByName(cfg.SWDIOPin)
	if dio == nil {
		return nil, fmt.Errorf("cmd: SWDIO pin %q not found", cfg.SWDIOPin)
	}

	bus := wire.NewGPIOBus(clk, dio, uint32(cfg.ClockDividerHz))
	tr := wire.NewTransceiver(bus)

	dp0, _, err := dap.Connect(tr, cfg.TargetIDCore0, cfg.WaitRetries)
	if err != nil {
		return nil, fmt.Errorf("cmd: connect to core 0: %w", err)
	}
	if err := dp0.PowerUp(); err != nil {
		return nil, fmt.Errorf("cmd: power up core 0: %w", err)
	}
	mem0 := mem.New(dp0, memCacheWords)
	ctx0 := core.New(mem0)
	if err := ctx0.EnableDebug(); err != nil {
		return nil, fmt.Errorf("cmd: enable debug on core 0: %w", err)
	}

	dp1 := dap.NewDebugPort(tr, cfg.WaitRetries)
	if err := dap.SelectCore(tr, dp1, cfg.TargetIDCore1); err != nil {
		return nil, fmt.Errorf("cmd: connect to core 1: %w", err)
	}
	if err := dp1.PowerUp(); err != nil {
		return nil, fmt.Errorf("cmd: power up core 1: %w", err)
	}
	mem1 := mem.New(dp1, memCacheWords)
	ctx1 := core.New(mem1)
	if err := ctx1.EnableDebug(); err != nil {
		return nil, fmt.Errorf("cmd: enable debug on core 1: %w", err)
	}

	// Leave the bus addressed at core 0, the Controller's assumed initial
	// selection.
	if err := dap.SelectCore(tr, dp0, cfg.TargetIDCore0); err != nil {
		return nil, fmt.Errorf("cmd: reselect core 0: %w", err)
	}

	selector := &coreSelector{
		tr:       tr,
		dp:       [2]*dap.DebugPort{dp0, dp1},
		targetID: [2]uint32{cfg.TargetIDCore0, cfg.TargetIDCore1},
	}
	controller := core.NewController([2]*core.Context{ctx0, ctx1}, [2]uint32{cfg.TargetIDCore0, cfg.TargetIDCore1}, selector)

	tramp := core.NewTrampoline(ctx0, core.TrampolineConfig{StackPointer: cfg.TrampolineSP})
	programmer := flash.NewProgrammer(tramp, mem0, cfg.FlashScratchRAM)

	return &target{
		Controller: controller,
		Mem:        [2]*mem.Access{mem0, mem1},
		Trampoline: tramp,
		Flash:      programmer,
	}, nil
}
