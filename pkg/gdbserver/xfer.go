package gdbserver

import (
	"strconv"
	"strings"
)

// targetXML is a minimal target description: two Cortex-M0+ cores, no
// floating point, the 17 registers g/p/P already expose.
const targetXML = `<?xml version="1.0"?>
<target version="1.0">
  <architecture>arm</architecture>
  <feature name="org.gnu.gdb.arm.m-profile">
    <reg name="r0" bitsize="32"/>
    <reg name="r1" bitsize="32"/>
    <reg name="r2" bitsize="32"/>
    <reg name="r3" bitsize="32"/>
    <reg name="r4" bitsize="32"/>
    <reg name="r5" bitsize="32"/>
    <reg name="r6" bitsize="32"/>
    <reg name="r7" bitsize="32"/>
    <reg name="r8" bitsize="32"/>
    <reg name="r9" bitsize="32"/>
    <reg name="r10" bitsize="32"/>
    <reg name="r11" bitsize="32"/>
    <reg name="r12" bitsize="32"/>
    <reg name="sp" bitsize="32" type="data_ptr"/>
    <reg name="lr" bitsize="32"/>
    <reg name="pc" bitsize="32" type="code_ptr"/>
    <reg name="xpsr" bitsize="32" regnum="16"/>
  </feature>
</target>
`

// threadsXML lists the two fixed threads GDB sees, one per core.
const threadsXML = `<?xml version="1.0"?>
<threads>
  <thread id="1" core="0" name="core0"/>
  <thread id="2" core="1" name="core1"/>
</threads>
`

// memoryMapXML describes the RP2040's QSPI flash window and SRAM, so
// GDB's "load" command knows where vFlash commands apply versus plain
// memory writes.
const memoryMapXML = `<?xml version="1.0"?>
<memory-map>
  <memory type="flash" start="0x10000000" length="0x200000">
    <property name="blocksize">0x10000</property>
  </memory>
  <memory type="ram" start="0x20000000" length="0x42000"/>
</memory-map>
`

func xferResource(object string) (string, bool) {
	switch object {
	case "features":
		return targetXML, true
	case "threads":
		return threadsXML, true
	case "memory-map":
		return memoryMapXML, true
	default:
		return "", false
	}
}

// dispatchXfer serves qXfer:<object>:read:<annex>:<offset>,<length>,
// chunking a static resource the way decode_xfer_read()/
// function_xfer_thing() do.
func dispatchXfer(s *Session, cmd string) []byte {
	rest := strings.TrimPrefix(cmd, "qXfer:")
	parts := strings.SplitN(rest, ":", 4)
	if len(parts) != 4 || parts[1] != "read" {
		return Empty()
	}
	object := parts[0]
	offsetLen := strings.SplitN(parts[3], ",", 2)
	if len(offsetLen) != 2 {
		return Err(1)
	}
	offset, err := strconv.ParseInt(offsetLen[0], 16, 64)
	if err != nil {
		return Err(1)
	}
	length, err := strconv.ParseInt(offsetLen[1], 16, 64)
	if err != nil {
		return Err(1)
	}

	data, ok := xferResource(object)
	if !ok {
		return Empty()
	}
	raw := []byte(data)
	if offset < 0 || offset > int64(len(raw)) {
		return Err(1)
	}
	end := offset + length
	more := true
	if end >= int64(len(raw)) {
		end = int64(len(raw))
		more = false
	}
	return XferChunk(raw[offset:end], more)
}
