package gdbserver

import (
	"time"

	"github.com/bitforge/swdprobe/pkg/core"
	"github.com/bitforge/swdprobe/pkg/transport"
)

// pollInterval is how often the run loop checks both cores for an
// unsolicited halt and the stream for an interrupt byte while a vCont
// continue is outstanding.
const pollInterval = 5 * time.Millisecond

// Serve drives one GDB client connection on stream until it disconnects
// or sends a 'D'/'k' packet, dispatching each complete packet and running
// vCont/c/s requests to completion before replying with a stop packet.
// This is the Go counterpart of gdb_poll()'s per-connection loop.
func Serve(s *Session, stream transport.Stream) error {
	if err := s.Controller.ResetHaltAll(); err != nil {
		return err
	}

	framer := NewFramer()
	for stream.IsConnected() {
		b, ok := stream.Get()
		if !ok {
			return nil
		}
		ev := framer.Feed(b)
		switch ev {
		case EventPacket:
			pkt := framer.Data()
			outcome := Dispatch(s, pkt)
			if !s.NoAckMode {
				stream.Put('+')
			}
			if outcome.Reply != nil {
				writeAll(stream, outcome.Reply)
			}
			if outcome.EnterRunLoop {
				signal, tid := runUntilStop(s, stream, outcome.RunSpec)
				writeAll(stream, StopReply(signal, tid))
			}
			if outcome.Detach {
				return nil
			}

		case EventChecksumFail, EventOverflow:
			if !s.NoAckMode {
				stream.Put('-')
			}

		case EventInterrupt, EventGarbage, EventAck, EventNack, EventNone:
			// Ack/nak/interrupt bytes outside of a run loop, and garbage
			// between sessions, need no response.
		}
	}
	return nil
}

func writeAll(stream transport.Stream, data []byte) {
	for _, b := range data {
		stream.Put(b)
	}
}

// runUntilStop carries out a vCont request: resume every core marked
// ActionContinue, then single-step the first core marked ActionStep.
// Stepping is synchronous, so a completed step halts the resumed cores
// and is reported at once. Without a completed step it polls the
// continuing cores and the stream's interrupt byte until something stops
// the target. It returns the stop signal and thread id to report.
func runUntilStop(s *Session, stream transport.Stream, spec RunSpec) (signal int, tid int) {
	anyRunning := false

	// Resume plain-continue cores before the stepping core, so a step
	// doesn't race a neighbor that's still catching up from a previous
	// stop.
	for i := 0; i < 2; i++ {
		if spec.Action[i] != ActionContinue {
			continue
		}
		if err := s.Controller.SelectCore(i); err != nil {
			continue
		}
		ctx := s.Controller.Context(i)
		if err := ctx.Resume(); err == nil {
			anyRunning = true
		}
	}
	for i := 0; i < 2; i++ {
		if spec.Action[i] != ActionStep {
			continue
		}
		if err := s.Controller.SelectCore(i); err != nil {
			continue
		}
		ctx := s.Controller.Context(i)
		pc, err := ctx.ReadReg(regPC)
		if err != nil {
			continue
		}
		if err := ctx.StepOverBreakpoint(pc); err == nil {
			if anyRunning {
				// Stop the world before reporting, as PollCores does.
				s.Controller.HaltAll()
			}
			ctx.SetHaltReason(core.ReasonStep)
			s.currentThread = coreToThread(i)
			return signalForHaltReason(ctx.HaltReason()), coreToThread(i)
		}
	}

	if !anyRunning {
		// Nothing was asked to continue (e.g. a lone step already
		// returned above); report the current thread's state as-is.
		return currentSignal(s), coreToThread(s.currentCoreIndex())
	}

	for {
		if b, ok := stream.Peek(); ok && b == 0x03 {
			stream.Get() // consume the interrupt byte
			idx := s.currentCoreIndex()
			if err := s.Controller.HaltAll(); err != nil {
				return currentSignal(s), coreToThread(idx)
			}
			// A 0x03 always reports DebugRequest, regardless of whatever
			// reason the cores actually halted for.
			s.Controller.Context(idx).SetHaltReason(core.ReasonDebugReq)
			return signalForHaltReason(core.ReasonDebugReq), coreToThread(idx)
		}
		if !stream.IsConnected() {
			return currentSignal(s), coreToThread(s.currentCoreIndex())
		}

		halted, err := s.Controller.PollCores()
		if err != nil {
			return currentSignal(s), coreToThread(s.currentCoreIndex())
		}
		if halted >= 0 {
			s.currentThread = coreToThread(halted)
			return signalForHaltReason(s.Controller.Context(halted).HaltReason()), coreToThread(halted)
		}
		time.Sleep(pollInterval)
	}
}

// currentSignal reports the signal for the current thread's core's
// last-recorded halt reason, for paths that return without a fresh
// poll result of their own (a pre-empted wait or an error fallback).
func currentSignal(s *Session) int {
	return signalForHaltReason(s.Controller.Context(s.currentCoreIndex()).HaltReason())
}
