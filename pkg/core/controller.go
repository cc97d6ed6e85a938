package core

import "fmt"

// Selector performs the wire-level work of switching which core answers
// subsequent DP/AP transactions (dap.SelectCore, in the caller's terms).
// Controller depends on this narrow interface rather than importing
// pkg/dap directly, keeping the debug-control-block layer ignorant of the
// transaction layer underneath it.
type Selector interface {
	SelectCore(targetID uint32) error
}

// Controller owns both Cortex-M0+ cores of a dual-core target and the
// stop-the-world halting discipline GDB expects from an all-stop target:
// when either core halts on its own (breakpoint, step, reset), the other
// is halted too before the event is reported upstream.
type Controller struct {
	ctx       [2]*Context
	targetID  [2]uint32
	selector  Selector
	current   int
	selected  bool
}

// NewController returns a Controller driving ctx[0]/ctx[1], switching
// between them via selector using targetID[0]/targetID[1].
func NewController(ctx [2]*Context, targetID [2]uint32, selector Selector) *Controller {
	return &Controller{ctx: ctx, targetID: targetID, selector: selector, current: 0}
}

// Current returns the index (0 or 1) of the currently selected core.
func (c *Controller) Current() int { return c.current }

// Context returns the Context for core i (0 or 1), regardless of which
// core is currently selected on the wire.
func (c *Controller) Context(i int) *Context {
	return c.ctx[i]
}

// SelectCore switches the wire target-select to core i, a no-op if core i
// is already selected. Every subsequent DP/AP/memory/core operation on
// any Context acts on whichever core was most recently selected here,
// since they all ultimately share the one physical SWD line.
func (c *Controller) SelectCore(i int) error {
	if i != 0 && i != 1 {
		return fmt.Errorf("core: invalid core index %d", i)
	}
	if c.selected && c.current == i {
		return nil
	}
	if err := c.selector.SelectCore(c.targetID[i]); err != nil {
		return fmt.Errorf("core: select core %d: %w", i, err)
	}
	c.current = i
	c.selected = true
	return nil
}

// PollCores checks both cores for a halt that was not initiated through
// this Controller (a breakpoint hit, a completed single-step landing
// somewhere surprising, a watchdog reset). If core i has halted and
// wasn't already recorded as Halted, the other core is halted too —
// GDB's all-stop model reports one stop event for the whole target — and
// i is returned. Returns -1 if neither core has newly halted.
func (c *Controller) PollCores() (halted int, err error) {
	for i := 0; i < 2; i++ {
		if err := c.SelectCore(i); err != nil {
			return -1, err
		}
		isHalted, err := c.ctx[i].IsHalted()
		if err != nil {
			return -1, fmt.Errorf("core: poll core %d: %w", i, err)
		}
		wasHalted := c.ctx[i].RunState() == Halted
		if !isHalted {
			c.ctx[i].runState = Running
			continue
		}
		c.ctx[i].runState = Halted
		if wasHalted {
			continue
		}
		if c.ctx[i].haltReason == ReasonUnknown {
			c.ctx[i].haltReason = ReasonBreakpoint
		}

		other := 1 - i
		if err := c.SelectCore(other); err != nil {
			return -1, err
		}
		if c.ctx[other].RunState() != Halted {
			if err := c.ctx[other].Halt(); err != nil {
				return -1, fmt.Errorf("core: stop-the-world halt of core %d: %w", other, err)
			}
			c.ctx[other].SetHaltReason(ReasonDebugReq)
		}
		if err := c.SelectCore(i); err != nil {
			return -1, err
		}
		return i, nil
	}
	return -1, nil
}

// HaltAll halts both cores, selecting each in turn, and leaves the
// original core selected on return when err is nil.
func (c *Controller) HaltAll() error {
	start := c.current
	for i := 0; i < 2; i++ {
		if err := c.SelectCore(i); err != nil {
			return err
		}
		if c.ctx[i].RunState() == Halted {
			continue
		}
		if err := c.ctx[i].Halt(); err != nil {
			return fmt.Errorf("core: halt core %d: %w", i, err)
		}
		c.ctx[i].SetHaltReason(ReasonDebugReq)
	}
	return c.SelectCore(start)
}

// ResetHaltAll resets and halts both cores at their reset vectors,
// core 0 first, matching the bring-up order a fresh connection uses.
func (c *Controller) ResetHaltAll() error {
	for i := 0; i < 2; i++ {
		if err := c.SelectCore(i); err != nil {
			return err
		}
		if err := c.ctx[i].ResetHalt(); err != nil {
			return fmt.Errorf("core: reset-halt core %d: %w", i, err)
		}
	}
	return c.SelectCore(0)
}
