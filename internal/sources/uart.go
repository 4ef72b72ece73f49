// Package sources provides memory-mapped device models that generate
// interrupts, for driving a platform-level interrupt controller in
// simulation: a 16550-style UART whose receive path raises a level
// interrupt, and a compare-match timer in the CLINT mold.
//
// Devices are stepped from a single goroutine; callers serialize
// register access with input feeding.
package sources

import (
	"io"

	"github.com/tinyrange/plic/internal/mmio"
)

// UART register offsets (16550 subset)
const (
	UARTRegRBR = 0 // Receive Buffer Register (read)
	UARTRegTHR = 0 // Transmit Holding Register (write)
	UARTRegIER = 1 // Interrupt Enable Register
	UARTRegIIR = 2 // Interrupt Identification Register (read)
	UARTRegFCR = 2 // FIFO Control Register (write)
	UARTRegLCR = 3 // Line Control Register
	UARTRegLSR = 5 // Line Status Register
	UARTRegSCR = 7 // Scratch Register
)

// IER bits
const (
	UARTIERRxAvailable = 1 << 0
	UARTIERTHREmpty    = 1 << 1
)

// LSR bits
const (
	UARTLSRDataReady = 1 << 0
	UARTLSRTHREmpty  = 1 << 5
	UARTLSRTxEmpty   = 1 << 6
)

// IIR values
const (
	UARTIIRNoInterrupt = 0x01
	UARTIIRTHREmpty    = 0x02
	UARTIIRRxAvailable = 0x04
)

// UART models the interrupt behavior of a 16550: its line is high
// while an enabled condition holds, and only draining the receive
// FIFO (or dropping IER bits) brings it down. Transmit output goes
// straight to Output; there is no transmit latency.
type UART struct {
	Output io.Writer

	ier uint8
	lcr uint8
	fcr uint8
	scr uint8
	dll uint8
	dlh uint8

	rx []byte

	linePending bool

	// OnInterrupt reports line level changes.
	OnInterrupt func(high bool)
}

// NewUART creates a UART writing transmit data to output.
func NewUART(output io.Writer) *UART {
	return &UART{Output: output}
}

// Size implements mmio.Device.
func (u *UART) Size() uint64 {
	return 0x100
}

func (u *UART) dlab() bool {
	return u.lcr&0x80 != 0
}

// Read implements mmio.Device.
func (u *UART) Read(offset uint64, size int) (uint64, error) {
	if size != 1 {
		return 0, nil
	}

	switch offset {
	case UARTRegRBR:
		if u.dlab() {
			return uint64(u.dll), nil
		}
		var data uint8
		if len(u.rx) > 0 {
			data = u.rx[0]
			u.rx = u.rx[1:]
		}
		u.updateLine()
		return uint64(data), nil

	case UARTRegIER:
		if u.dlab() {
			return uint64(u.dlh), nil
		}
		return uint64(u.ier), nil

	case UARTRegIIR:
		switch {
		case u.ier&UARTIERRxAvailable != 0 && len(u.rx) > 0:
			return UARTIIRRxAvailable, nil
		case u.ier&UARTIERTHREmpty != 0:
			return UARTIIRTHREmpty, nil
		}
		return UARTIIRNoInterrupt, nil

	case UARTRegLCR:
		return uint64(u.lcr), nil

	case UARTRegLSR:
		lsr := uint8(UARTLSRTHREmpty | UARTLSRTxEmpty)
		if len(u.rx) > 0 {
			lsr |= UARTLSRDataReady
		}
		return uint64(lsr), nil

	case UARTRegSCR:
		return uint64(u.scr), nil
	}

	return 0, nil
}

// Write implements mmio.Device.
func (u *UART) Write(offset uint64, size int, value uint64) error {
	if size != 1 {
		return nil
	}

	data := uint8(value)

	switch offset {
	case UARTRegTHR:
		if u.dlab() {
			u.dll = data
			return nil
		}
		if u.Output != nil {
			u.Output.Write([]byte{data})
		}

	case UARTRegIER:
		if u.dlab() {
			u.dlh = data
			return nil
		}
		u.ier = data
		u.updateLine()

	case UARTRegFCR:
		u.fcr = data
		if data&0x02 != 0 { // clear receive FIFO
			u.rx = nil
			u.updateLine()
		}

	case UARTRegLCR:
		u.lcr = data

	case UARTRegSCR:
		u.scr = data
	}

	return nil
}

// Feed queues receive data, as if it arrived on the wire.
func (u *UART) Feed(data []byte) {
	u.rx = append(u.rx, data...)
	u.updateLine()
}

// RxPending returns the bytes waiting in the receive FIFO.
func (u *UART) RxPending() int {
	return len(u.rx)
}

// LineHigh reports the current interrupt line level.
func (u *UART) LineHigh() bool {
	return u.linePending
}

func (u *UART) updateLine() {
	high := u.ier&UARTIERRxAvailable != 0 && len(u.rx) > 0
	// THR-empty as a level source would never drop: transmit here is
	// instantaneous, so only the receive side drives the line.

	if high != u.linePending {
		u.linePending = high
		if u.OnInterrupt != nil {
			u.OnInterrupt(high)
		}
	}
}

var _ mmio.Device = (*UART)(nil)
