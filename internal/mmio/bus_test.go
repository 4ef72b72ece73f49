package mmio

import (
	"strings"
	"testing"
)

// wordDevice is a trivial register block backed by a word array.
type wordDevice struct {
	words  []uint32
	reads  int
	writes int
}

func (d *wordDevice) Read(offset uint64, size int) (uint64, error) {
	d.reads++
	return uint64(d.words[offset/4]), nil
}

func (d *wordDevice) Write(offset uint64, size int, value uint64) error {
	d.writes++
	d.words[offset/4] = uint32(value)
	return nil
}

func (d *wordDevice) Size() uint64 {
	return uint64(len(d.words) * 4)
}

func TestBusRouting(t *testing.T) {
	bus := NewBus()

	a := &wordDevice{words: make([]uint32, 4)}
	b := &wordDevice{words: make([]uint32, 4)}
	bus.AddDevice(0x1000, a)
	bus.AddDevice(0x2000, b)

	if err := bus.Write32(0x1004, 0xdeadbeef); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	if err := bus.Write32(0x2008, 0x1234); err != nil {
		t.Fatalf("Write32: %v", err)
	}

	got, err := bus.Read32(0x1004)
	if err != nil {
		t.Fatalf("Read32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("read = 0x%x, want 0xdeadbeef", got)
	}

	if a.writes != 1 || b.writes != 1 {
		t.Fatalf("writes routed a=%d b=%d, want 1 and 1", a.writes, b.writes)
	}
	if b.words[2] != 0x1234 {
		t.Fatalf("device b word 2 = 0x%x, want 0x1234", b.words[2])
	}
}

func TestBusUnmappedAddress(t *testing.T) {
	bus := NewBus()
	bus.AddDevice(0x1000, &wordDevice{words: make([]uint32, 4)})

	if _, err := bus.Read32(0x5000); err == nil {
		t.Fatalf("expected error for unmapped read")
	}
	if err := bus.Write32(0x0, 1); err == nil {
		t.Fatalf("expected error for unmapped write")
	}
}

func TestBusIOPanicsOnUnmapped(t *testing.T) {
	io := &BusIO{Bus: NewBus()}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for unmapped register access")
		}
		if !strings.Contains(r.(string), "no device") {
			t.Fatalf("unexpected panic message: %v", r)
		}
	}()

	io.Read32(0x1234)
}

func TestBusIORoundTrip(t *testing.T) {
	bus := NewBus()
	dev := &wordDevice{words: make([]uint32, 8)}
	bus.AddDevice(0xc000000, dev)

	io := &BusIO{Bus: bus}
	io.Write32(0xc000010, 7)
	if got := io.Read32(0xc000010); got != 7 {
		t.Fatalf("register = %d, want 7", got)
	}
}
