package wire

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Bus is the boundary to the low-level bit-serial engine that actually
// wiggles the clock and data pins, typically a PIO state machine with its
// own FIFOs; it is out of scope for the Transceiver, which only ever calls
// SubmitBits/ReadWord/SetClockDivider.
// Implementations decide their own yield behavior when internal buffering
// blocks.
type Bus interface {
	// SubmitBits drives count bits (LSB-first) of bits onto the data line,
	// toggling the clock once per bit.
	SubmitBits(bits uint32, count int) error
	// ReadWord samples count bits (LSB-first, right-justified) from the
	// data line, toggling the clock once per bit.
	ReadWord(count int) (uint32, error)
	// SetClockDivider configures the bit rate in Hz. The achievable rate is
	// hardware-dependent; callers only rely on the target's timing
	// requirements being honored, not on an exact frequency.
	SetClockDivider(hz uint32) error
}

// GPIOBus is a Bus implementation that bit-bangs a two-wire debug bus over a
// pair of periph.io GPIO pins: Clk (push-pull output) and Dio (open-drain
// capable bidirectional pin). Grounded on the bit-serial pin toggling pattern
// used by periph.io/x/conn/v3/gpio consumers such as the FTDI MPSSE driver
// and the DS248x one-wire bridge (both drive a physical serial protocol a
// bit at a time over a handle with a configurable clock rate).
type GPIOBus struct {
	Clk gpio.PinOut
	Dio gpio.PinIO

	halfPeriod time.Duration
	dioOutput  bool
}

// NewGPIOBus returns a GPIOBus driving clk/dio at the given initial
// frequency.
func NewGPIOBus(clk gpio.PinOut, dio gpio.PinIO, hz uint32) *GPIOBus {
	b := &GPIOBus{Clk: clk, Dio: dio}
	_ = b.SetClockDivider(hz)
	return b
}

// SetClockDivider configures the half-period delay inserted around each
// clock edge. hz of 0 is treated as the fastest supported rate.
func (b *GPIOBus) SetClockDivider(hz uint32) error {
	if hz == 0 {
		b.halfPeriod = 0
		return nil
	}
	freq := physic.Frequency(hz) * physic.Hertz
	period := time.Second * time.Duration(physic.Hertz) / time.Duration(freq)
	b.halfPeriod = period / 2
	return nil
}

func (b *GPIOBus) ensureOutput() error {
	if b.dioOutput {
		return nil
	}
	if err := b.Dio.Out(gpio.High); err != nil {
		return fmt.Errorf("wire: dio to output: %w", err)
	}
	b.dioOutput = true
	return nil
}

func (b *GPIOBus) ensureInput() error {
	if !b.dioOutput {
		return nil
	}
	if err := b.Dio.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("wire: dio to input: %w", err)
	}
	b.dioOutput = false
	return nil
}

func (b *GPIOBus) clockPulse() {
	b.Clk.Out(gpio.Low)
	b.sleep()
	b.Clk.Out(gpio.High)
	b.sleep()
}

func (b *GPIOBus) sleep() {
	if b.halfPeriod > 0 {
		time.Sleep(b.halfPeriod)
	}
}

// SubmitBits drives count LSB-first bits of bits out onto Dio.
func (b *GPIOBus) SubmitBits(bits uint32, count int) error {
	if err := b.ensureOutput(); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		level := gpio.Low
		if (bits>>uint(i))&1 != 0 {
			level = gpio.High
		}
		if err := b.Dio.Out(level); err != nil {
			return fmt.Errorf("wire: dio out: %w", err)
		}
		b.clockPulse()
	}
	return nil
}

// ReadWord samples count LSB-first bits from Dio, right-justified in the
// returned word.
func (b *GPIOBus) ReadWord(count int) (uint32, error) {
	if err := b.ensureInput(); err != nil {
		return 0, err
	}
	var word uint32
	for i := 0; i < count; i++ {
		if b.Dio.Read() == gpio.High {
			word |= 1 << uint(i)
		}
		b.clockPulse()
	}
	return word, nil
}
