package sources

import (
	"bytes"
	"testing"
)

func readByte(t *testing.T, u *UART, offset uint64) uint8 {
	t.Helper()
	v, err := u.Read(offset, 1)
	if err != nil {
		t.Fatalf("read reg %d: %v", offset, err)
	}
	return uint8(v)
}

func writeByte(t *testing.T, u *UART, offset uint64, value uint8) {
	t.Helper()
	if err := u.Write(offset, 1, uint64(value)); err != nil {
		t.Fatalf("write reg %d: %v", offset, err)
	}
}

func TestUARTTransmit(t *testing.T) {
	var out bytes.Buffer
	u := NewUART(&out)

	for _, b := range []byte("ok\n") {
		writeByte(t, u, UARTRegTHR, b)
	}

	if got := out.String(); got != "ok\n" {
		t.Fatalf("output = %q, want %q", got, "ok\n")
	}
	if lsr := readByte(t, u, UARTRegLSR); lsr&UARTLSRTHREmpty == 0 {
		t.Fatalf("LSR = 0x%x, transmitter should always be ready", lsr)
	}
}

func TestUARTReceiveLine(t *testing.T) {
	u := NewUART(nil)

	var transitions []bool
	u.OnInterrupt = func(high bool) { transitions = append(transitions, high) }

	// Data with the receive interrupt disabled stays silent.
	u.Feed([]byte("a"))
	if u.LineHigh() {
		t.Fatalf("line high with IER clear")
	}

	writeByte(t, u, UARTRegIER, UARTIERRxAvailable)
	if !u.LineHigh() {
		t.Fatalf("line low with data ready and the interrupt enabled")
	}

	if lsr := readByte(t, u, UARTRegLSR); lsr&UARTLSRDataReady == 0 {
		t.Fatalf("LSR = 0x%x, data-ready bit missing", lsr)
	}

	// Draining the FIFO drops the line.
	if got := readByte(t, u, UARTRegRBR); got != 'a' {
		t.Fatalf("RBR = %q, want %q", got, byte('a'))
	}
	if u.LineHigh() {
		t.Fatalf("line still high after draining")
	}

	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("transitions = %v, want [true false]", transitions)
	}
}

func TestUARTFIFOOrder(t *testing.T) {
	u := NewUART(nil)
	writeByte(t, u, UARTRegIER, UARTIERRxAvailable)

	u.Feed([]byte("xyz"))

	var got []byte
	for u.RxPending() > 0 {
		got = append(got, readByte(t, u, UARTRegRBR))
	}
	if string(got) != "xyz" {
		t.Fatalf("drained %q, want %q", got, "xyz")
	}
}

func TestUARTFIFOReset(t *testing.T) {
	u := NewUART(nil)
	writeByte(t, u, UARTRegIER, UARTIERRxAvailable)
	u.Feed([]byte("stale"))

	writeByte(t, u, UARTRegFCR, 0x03) // enable + clear receive FIFO

	if u.RxPending() != 0 {
		t.Fatalf("rx pending = %d after FIFO reset, want 0", u.RxPending())
	}
	if u.LineHigh() {
		t.Fatalf("line high after FIFO reset")
	}
}

func TestUARTDivisorLatch(t *testing.T) {
	u := NewUART(nil)

	writeByte(t, u, UARTRegLCR, 0x80) // DLAB on
	writeByte(t, u, UARTRegTHR, 0x34)
	writeByte(t, u, UARTRegIER, 0x12)

	if got := readByte(t, u, UARTRegRBR); got != 0x34 {
		t.Fatalf("DLL = 0x%x, want 0x34", got)
	}
	if got := readByte(t, u, UARTRegIER); got != 0x12 {
		t.Fatalf("DLH = 0x%x, want 0x12", got)
	}

	writeByte(t, u, UARTRegLCR, 0x03) // DLAB off
	if got := readByte(t, u, UARTRegIER); got != 0 {
		t.Fatalf("IER = 0x%x with DLAB off, want 0", got)
	}
}

func TestUARTInterruptIdentification(t *testing.T) {
	u := NewUART(nil)

	if got := readByte(t, u, UARTRegIIR); got != UARTIIRNoInterrupt {
		t.Fatalf("IIR = 0x%x idle, want 0x%x", got, UARTIIRNoInterrupt)
	}

	writeByte(t, u, UARTRegIER, UARTIERRxAvailable)
	u.Feed([]byte("!"))
	if got := readByte(t, u, UARTRegIIR); got != UARTIIRRxAvailable {
		t.Fatalf("IIR = 0x%x with rx data, want 0x%x", got, UARTIIRRxAvailable)
	}
}
