package gdbserver

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunAction is what vCont (or a legacy c/s) asks one core to do.
type RunAction int

const (
	ActionNone RunAction = iota
	ActionContinue
	ActionStep
)

// RunSpec describes a vCont request: what each core should do once the
// command's reply processing hands off to the run loop.
type RunSpec struct {
	Action [2]RunAction
}

// Outcome is what dispatching one packet produced: an immediate reply to
// send, and/or a run request the caller's loop must carry out (since that
// needs the transport, to watch for a 0x03 interrupt, which Dispatch
// itself does not have access to).
type Outcome struct {
	Reply        []byte
	EnterRunLoop bool
	RunSpec      RunSpec
	Detach       bool
}

// Dispatch decodes one packet body (without '$'/checksum framing) and
// returns what the server should do about it. This mirrors
// process_packet()'s strncmp dispatch table, one case per command tag.
func Dispatch(s *Session, pkt []byte) Outcome {
	cmd := string(pkt)
	switch {
	case cmd == "?":
		return Outcome{Reply: lastStopReply(s)}

	case strings.HasPrefix(cmd, "qSupported"):
		return Outcome{Reply: FrameString(fmt.Sprintf(
			"PacketSize=%x;qXfer:memory-map:read+;qXfer:features:read+;qXfer:threads:read+;vContSupported+;QStartNoAckMode+",
			s.PacketSize))}

	case cmd == "QStartNoAckMode":
		s.NoAckMode = true
		return Outcome{Reply: OK()}

	case cmd == "vMustReplyEmpty":
		return Outcome{Reply: Empty()}

	case cmd == "qC":
		return Outcome{Reply: FrameString(fmt.Sprintf("QC%d", s.currentThread))}

	case cmd == "qAttached":
		return Outcome{Reply: FrameString("1")}

	case cmd == "qOffsets":
		return Outcome{Reply: FrameString("Text=0;Data=0;Bss=0")}

	case strings.HasPrefix(cmd, "qSymbol"):
		return Outcome{Reply: dispatchQSymbol(s, cmd)}

	case strings.HasPrefix(cmd, "qXfer:"):
		return Outcome{Reply: dispatchXfer(s, cmd)}

	case cmd == "qfThreadInfo":
		return Outcome{Reply: FrameString("m1,2")}
	case cmd == "qsThreadInfo":
		return Outcome{Reply: FrameString("l")}

	case strings.HasPrefix(cmd, "qRcmd,"):
		return Outcome{Reply: dispatchRcmd(s, cmd[len("qRcmd,"):])}

	case strings.HasPrefix(cmd, "H"):
		return Outcome{Reply: dispatchSetThread(s, cmd)}

	case strings.HasPrefix(cmd, "T"):
		return Outcome{Reply: dispatchIsThreadAlive(cmd)}

	case cmd == "g":
		return Outcome{Reply: dispatchReadAllRegs(s)}
	case strings.HasPrefix(cmd, "G"):
		return Outcome{Reply: dispatchWriteAllRegs(s, cmd[1:])}
	case strings.HasPrefix(cmd, "p"):
		return Outcome{Reply: dispatchReadReg(s, cmd[1:])}
	case strings.HasPrefix(cmd, "P"):
		return Outcome{Reply: dispatchWriteReg(s, cmd[1:])}

	case strings.HasPrefix(cmd, "m"):
		return Outcome{Reply: dispatchReadMem(s, cmd[1:])}
	case strings.HasPrefix(cmd, "M"):
		return Outcome{Reply: dispatchWriteMem(s, cmd[1:])}

	case strings.HasPrefix(cmd, "Z"):
		return Outcome{Reply: dispatchSetBreak(s, cmd[1:])}
	case strings.HasPrefix(cmd, "z"):
		return Outcome{Reply: dispatchClearBreak(s, cmd[1:])}

	case cmd == "vCont?":
		return Outcome{Reply: FrameString("vCont;c;C;s;S")}
	case strings.HasPrefix(cmd, "vCont;"):
		spec, err := parseVCont(cmd[len("vCont;"):])
		if err != nil {
			return Outcome{Reply: Err(1)}
		}
		return Outcome{EnterRunLoop: true, RunSpec: spec}

	case cmd == "c" || cmd == "s":
		spec := RunSpec{}
		action := ActionContinue
		if cmd == "s" {
			action = ActionStep
		}
		spec.Action[s.currentCoreIndex()] = action
		return Outcome{EnterRunLoop: true, RunSpec: spec}

	case cmd == "D":
		return Outcome{Reply: OK(), Detach: true}
	case cmd == "k":
		return Outcome{Detach: true}

	case strings.HasPrefix(cmd, "vFlashErase:"):
		return Outcome{Reply: dispatchFlashErase(s, cmd[len("vFlashErase:"):])}
	case strings.HasPrefix(cmd, "vFlashWrite:"):
		return Outcome{Reply: dispatchFlashWrite(s, cmd[len("vFlashWrite:"):])}
	case cmd == "vFlashDone":
		return Outcome{Reply: dispatchFlashDone(s)}

	default:
		return Outcome{Reply: Empty()}
	}
}

func lastStopReply(s *Session) []byte {
	ctx, err := s.currentCtx()
	if err != nil {
		return Err(1)
	}
	return StopReply(signalForHaltReason(ctx.HaltReason()), coreToThread(s.currentCoreIndex()))
}

func dispatchSetThread(s *Session, cmd string) []byte {
	// "Hg<tid>" (general ops) / "Hc<tid>" (step/continue ops). Both name
	// the same core-selection concept here; track one current thread.
	if len(cmd) < 2 {
		return Err(1)
	}
	tidStr := cmd[2:]
	tid, err := strconv.ParseInt(tidStr, 16, 32)
	if err != nil {
		return Err(1)
	}
	if tid <= 0 {
		// 0 or -1 means "any/all threads"; default to thread 1.
		tid = 1
	}
	if err := s.selectThread(int(tid)); err != nil {
		return Err(1)
	}
	s.currentThread = int(tid)
	return OK()
}

func dispatchIsThreadAlive(cmd string) []byte {
	tidStr := strings.TrimPrefix(cmd, "T")
	tid, err := strconv.ParseInt(tidStr, 16, 32)
	if err != nil || (tid != 1 && tid != 2) {
		return Err(1)
	}
	return OK()
}

func dispatchReadAllRegs(s *Session) []byte {
	regs, err := s.readAllRegisters()
	if err != nil {
		return Err(1)
	}
	return FrameString(Hex(regs))
}

func dispatchWriteAllRegs(s *Session, hexPayload string) []byte {
	data, err := UnhexBytes(hexPayload)
	if err != nil || len(data) < numCoreRegisters*4 {
		return Err(1)
	}
	for i := 0; i < numCoreRegisters; i++ {
		v := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		if err := s.writeRegister(i, v); err != nil {
			return Err(1)
		}
	}
	return OK()
}

func dispatchReadReg(s *Session, hexIdx string) []byte {
	n, err := strconv.ParseInt(hexIdx, 16, 32)
	if err != nil {
		return Err(1)
	}
	v, err := s.readRegister(int(n))
	if err != nil {
		return Err(1)
	}
	return FrameString(Hex([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}))
}

func dispatchWriteReg(s *Session, arg string) []byte {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return Err(1)
	}
	n, err := strconv.ParseInt(parts[0], 16, 32)
	if err != nil {
		return Err(1)
	}
	data, err := UnhexBytes(parts[1])
	if err != nil || len(data) < 4 {
		return Err(1)
	}
	v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if err := s.writeRegister(int(n), v); err != nil {
		return Err(1)
	}
	return OK()
}

func parseAddrLen(arg string) (addr uint32, length int, err error) {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("gdbserver: malformed memory command %q", arg)
	}
	a, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(a), int(n), nil
}

func parseMemArg(arg string) (addr uint32, length int, rest string, err error) {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) < 2 {
		return 0, 0, "", fmt.Errorf("gdbserver: malformed memory command %q", arg)
	}
	a, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, "", err
	}
	lenAndRest := strings.SplitN(parts[1], ":", 2)
	n, err := strconv.ParseUint(lenAndRest[0], 16, 32)
	if err != nil {
		return 0, 0, "", err
	}
	if len(lenAndRest) == 2 {
		rest = lenAndRest[1]
	}
	return uint32(a), int(n), rest, nil
}

func dispatchReadMem(s *Session, arg string) []byte {
	addr, length, err := parseAddrLen(arg)
	if err != nil {
		return Err(1)
	}
	m, err := s.currentMem()
	if err != nil {
		return Err(1)
	}
	data, err := m.ReadBytes(addr, length)
	if err != nil {
		return Err(1)
	}
	return FrameString(Hex(data))
}

func dispatchWriteMem(s *Session, arg string) []byte {
	addr, length, payload, err := parseMemArg(arg)
	if err != nil {
		return Err(1)
	}
	data, err := UnhexBytes(payload)
	if err != nil || len(data) != length {
		return Err(1)
	}
	m, err := s.currentMem()
	if err != nil {
		return Err(1)
	}
	if err := m.WriteBytes(addr, data); err != nil {
		return Err(1)
	}
	return OK()
}

func parseBreakArg(arg string) (kind int, addr uint32, err error) {
	parts := strings.SplitN(arg, ",", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("gdbserver: malformed breakpoint command %q", arg)
	}
	k, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	a, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return int(k), uint32(a), nil
}

func dispatchSetBreak(s *Session, arg string) []byte {
	kind, addr, err := parseBreakArg(arg)
	if err != nil {
		return Err(1)
	}
	ctx, err := s.currentCtx()
	if err != nil {
		return Err(1)
	}
	switch kind {
	case 0:
		err = ctx.SoftwareBreakpoints().Set(addr)
	case 1:
		err = ctx.SetBreakpoint(addr)
	default:
		return Empty() // watchpoints unsupported
	}
	if err != nil {
		return Err(1)
	}
	return OK()
}

func dispatchClearBreak(s *Session, arg string) []byte {
	kind, addr, err := parseBreakArg(arg)
	if err != nil {
		return Err(1)
	}
	ctx, err := s.currentCtx()
	if err != nil {
		return Err(1)
	}
	switch kind {
	case 0:
		err = ctx.SoftwareBreakpoints().Clear(addr)
	case 1:
		err = ctx.ClearBreakpoint(addr)
	default:
		return Empty()
	}
	if err != nil {
		return Err(1)
	}
	return OK()
}

func dispatchRcmd(s *Session, hexCmd string) []byte {
	raw, err := UnhexBytes(hexCmd)
	if err != nil {
		return Err(1)
	}
	switch strings.TrimSpace(string(raw)) {
	case "reset halt":
		if err := s.Controller.ResetHaltAll(); err != nil {
			return Err(1)
		}
		return FrameString(Hex([]byte("target reset and halted\n")))
	case "get_to_main":
		return dispatchGetToMain(s)
	default:
		return FrameString(Hex([]byte("unknown monitor command\n")))
	}
}

// getToMainTimeout bounds how long "monitor get_to_main" waits for the
// temporary breakpoint at main to be hit before giving up (spec.md §6:
// "wait up to ~400 ms for halt").
const getToMainTimeout = 400 * time.Millisecond

// dispatchGetToMain implements the "monitor get_to_main" command: it sets
// a temporary software breakpoint at the address qSymbol previously
// resolved for "main", resumes the current core, and waits for the
// breakpoint to be hit before clearing it again.
func dispatchGetToMain(s *Session) []byte {
	if !s.mainKnown {
		return FrameString(Hex([]byte("main address unknown; no qSymbol resolution yet\n")))
	}
	ctx, err := s.currentCtx()
	if err != nil {
		return Err(1)
	}
	sw := ctx.SoftwareBreakpoints()
	if err := sw.Set(s.mainAddr); err != nil {
		return Err(1)
	}
	if err := ctx.Resume(); err != nil {
		sw.Clear(s.mainAddr)
		return Err(1)
	}

	idx := s.currentCoreIndex()
	haltedCore := -1
	deadline := time.Now().Add(getToMainTimeout)
	for time.Now().Before(deadline) {
		halted, err := s.Controller.PollCores()
		if err != nil {
			break
		}
		if halted >= 0 {
			haltedCore = halted
			break
		}
		time.Sleep(pollInterval)
	}

	sw.Clear(s.mainAddr)
	if haltedCore != idx {
		return FrameString(Hex([]byte("timed out waiting for main\n")))
	}
	return FrameString(Hex([]byte("running to main\n")))
}

// dispatchQSymbol implements the qSymbol exchange: the first "qSymbol::"
// notification from GDB is answered with a request to resolve "main";
// GDB's follow-up reply carrying the resolved value is stored for
// "monitor get_to_main" to use.
func dispatchQSymbol(s *Session, cmd string) []byte {
	rest := strings.TrimPrefix(cmd, "qSymbol")
	rest = strings.TrimPrefix(rest, ":")
	parts := strings.SplitN(rest, ":", 2)
	valueHex := parts[0]
	nameHex := ""
	if len(parts) > 1 {
		nameHex = parts[1]
	}

	if valueHex == "" && nameHex == "" {
		if s.symbolRequested {
			return OK()
		}
		s.symbolRequested = true
		return FrameString("qSymbol:" + Hex([]byte("main")))
	}

	if valueHex != "" {
		if name, err := UnhexBytes(nameHex); err == nil && string(name) == "main" {
			if v, err := strconv.ParseUint(valueHex, 16, 32); err == nil {
				s.mainAddr = uint32(v)
				s.mainKnown = true
			}
		}
	}
	return OK()
}

func parseVCont(spec string) (RunSpec, error) {
	var out RunSpec
	var defaultAction RunAction
	haveDefault := false

	for _, tok := range strings.Split(spec, ";") {
		if tok == "" {
			continue
		}
		parts := strings.SplitN(tok, ":", 2)
		var action RunAction
		switch parts[0][0] {
		case 'c', 'C':
			action = ActionContinue
		case 's', 'S':
			action = ActionStep
		default:
			return RunSpec{}, fmt.Errorf("gdbserver: unsupported vCont action %q", tok)
		}
		if len(parts) == 1 {
			defaultAction = action
			haveDefault = true
			continue
		}
		tid, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return RunSpec{}, err
		}
		idx, err := threadToCore(int(tid))
		if err != nil {
			return RunSpec{}, err
		}
		out.Action[idx] = action
	}
	if haveDefault {
		for i := range out.Action {
			if out.Action[i] == ActionNone {
				out.Action[i] = defaultAction
			}
		}
	}
	return out, nil
}

// dispatchFlashErase handles vFlashErase:<a>,<l>. The erase itself is
// deferred to vFlashDone (spec.md §4.5.3/§4.5.5); this only records the
// requested range.
func dispatchFlashErase(s *Session, arg string) []byte {
	if s.Flash == nil {
		return Err(1)
	}
	addr, length, err := parseAddrLen(arg)
	if err != nil {
		return Err(1)
	}
	s.Flash.RecordErase(addr, uint32(length))
	return OK()
}

func dispatchFlashWrite(s *Session, arg string) []byte {
	if s.Flash == nil {
		return Err(1)
	}
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return Err(1)
	}
	addr, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return Err(1)
	}
	s.Flash.Stage(uint32(addr), []byte(parts[1]))
	return OK()
}

func dispatchFlashDone(s *Session) []byte {
	if s.Flash == nil {
		return Err(1)
	}
	if err := s.Flash.Commit(); err != nil {
		return Err(1)
	}
	return OK()
}
