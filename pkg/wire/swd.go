// Package wire implements the bit-accurate two-wire debug bus transceiver:
// send/read of raw bit sequences, the canonical 8-bit-header SWD
// transaction with its turn-arounds and acknowledgement decoding, and the
// bulk sequences used for wake-up, line reset, and multi-drop target
// selection.
package wire

// ack values as clocked back from the target, least-significant bit first.
const (
	ackOK    = 0b001
	ackWait  = 0b010
	ackFault = 0b100
)

// Transceiver drives send_bits/read_bits/raw_transaction/target_select/
// line_reset/wake_from_dormant over a Bus. It never retries a WAIT
// acknowledgement itself; that is the DP/AP transaction layer's job.
type Transceiver struct {
	bus Bus
}

// NewTransceiver returns a Transceiver driving the given Bus.
func NewTransceiver(bus Bus) *Transceiver {
	return &Transceiver{bus: bus}
}

// SetClockDivider configures the bit rate in Hz.
func (t *Transceiver) SetClockDivider(hz uint32) error {
	return t.bus.SetClockDivider(hz)
}

// SendBits pushes count bits (LSB-first within each word) with the host as
// driver.
func (t *Transceiver) SendBits(bits uint32, count int) error {
	return t.bus.SubmitBits(bits, count)
}

// ReadBits reads count bits (<=32) with the host as receiver, returning an
// unsigned word right-justified.
func (t *Transceiver) ReadBits(count int) (uint32, error) {
	return t.bus.ReadWord(count)
}

// turnaround emits the single bit separating driver roles on the data line.
func (t *Transceiver) turnaround() error {
	_, err := t.bus.ReadWord(1)
	return err
}

// header bit layout constants (LSB first): start, APnDP, RnW, A2, A3,
// parity, stop, park.
func headerByte(apNdp bool, rw bool, addr2_3 uint8) uint32 {
	apndpBit := uint32(0)
	if apNdp {
		apndpBit = 1
	}
	rwBit := uint32(0)
	if rw {
		rwBit = 1
	}
	parBits := uint32(addr2_3&0xc) | (rwBit << 1) | apndpBit
	par := parity4(parBits)

	return (1 << 7) | // park
		(0 << 6) | // stop
		(par << 5) |
		(uint32(addr2_3&0xc) << 1) | // A3/A2
		(rwBit << 2) |
		(apndpBit << 1) |
		1 // start
}

// RawTransactionRead performs the canonical SWD read transaction: 8-bit
// header, turn-around, 3-bit ack, then (on OK) 32 data bits + parity +
// turn-around.
func (t *Transceiver) RawTransactionRead(apNdp bool, addr2_3 uint8) (uint32, error) {
	if err := t.bus.SubmitBits(headerByte(apNdp, true, addr2_3), 8); err != nil {
		return 0, err
	}
	ackWord, err := t.bus.ReadWord(1 + 3) // turn-around bit + 3 ack bits
	if err != nil {
		return 0, err
	}
	ack := (ackWord >> 1) & 0x7

	if ack != ackOK {
		if err := t.turnaround(); err != nil {
			return 0, err
		}
		return 0, ackError(ack)
	}

	payload, err := t.bus.ReadWord(32)
	if err != nil {
		return 0, err
	}
	parityBits, err := t.bus.ReadWord(1)
	if err != nil {
		return 0, err
	}
	if err := t.turnaround(); err != nil {
		return 0, err
	}
	if parityBits != parity32(payload) {
		return 0, &BusError{Kind: ParityError}
	}
	return payload, nil
}

// RawTransactionWrite performs the canonical SWD write transaction: 8-bit
// header, turn-around, 3-bit ack, then (on OK) turn-around + 32 data bits +
// parity.
func (t *Transceiver) RawTransactionWrite(apNdp bool, addr2_3 uint8, value uint32) error {
	if err := t.bus.SubmitBits(headerByte(apNdp, false, addr2_3), 8); err != nil {
		return err
	}
	ackWord, err := t.bus.ReadWord(1 + 3)
	if err != nil {
		return err
	}
	ack := (ackWord >> 1) & 0x7

	if err := t.turnaround(); err != nil {
		return err
	}
	if ack != ackOK {
		return ackError(ack)
	}

	if err := t.bus.SubmitBits(value, 32); err != nil {
		return err
	}
	return t.bus.SubmitBits(parity32(value), 1)
}

func ackError(ack uint32) error {
	switch ack {
	case ackWait:
		return &BusError{Kind: Wait}
	case ackFault:
		return &BusError{Kind: Fault}
	default:
		return &BusError{Kind: ProtocolError}
	}
}

// TargetSelect emits the special sequence used for multi-drop selection.
// The target never drives an acknowledgement for this request, so the
// turn-around and ack-slot bits are read and discarded rather than
// checked.
func (t *Transceiver) TargetSelect(targetID uint32) error {
	const fixedHeader = 0b10011001 // start, APnDP=0, RnW=0, A[3:2]=11(TARGETSEL), parity=0, stop=0, park=1
	if err := t.bus.SubmitBits(fixedHeader, 8); err != nil {
		return err
	}
	if _, err := t.bus.ReadWord(5); err != nil { // turn-around + 3 ack + turn-around, discarded
		return err
	}
	if err := t.bus.SubmitBits(targetID, 32); err != nil {
		return err
	}
	return t.bus.SubmitBits(parity32(targetID), 1)
}

// LineReset emits at least 50 consecutive 1-bits followed by >=2 zero bits.
func (t *Transceiver) LineReset() error {
	if err := t.bus.SubmitBits(lineResetWords[0], 32); err != nil {
		return err
	}
	return t.bus.SubmitBits(lineResetWords[1], lineResetBits-32)
}

// WakeFromDormant emits the fixed 128-bit selection alert, 4 zero bits, the
// 8-bit activation code, 8 one-bits, then a line reset. Required once after
// power-up or rescue.
func (t *Transceiver) WakeFromDormant() error {
	for _, word := range dormantSelectionAlert {
		if err := t.bus.SubmitBits(word, 32); err != nil {
			return err
		}
	}
	if err := t.bus.SubmitBits(0, 4); err != nil {
		return err
	}
	if err := t.bus.SubmitBits(dormantActivationCode, 8); err != nil {
		return err
	}
	if err := t.bus.SubmitBits(0xff, 8); err != nil {
		return err
	}
	return t.LineReset()
}
