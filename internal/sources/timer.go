package sources

import "github.com/tinyrange/plic/internal/mmio"

// Timer register offsets
const (
	TimerRegCmpLo  = 0x0
	TimerRegCmpHi  = 0x4
	TimerRegTimeLo = 0x8
	TimerRegTimeHi = 0xc
)

// Timer is a compare-match timer: its interrupt line is high while
// time >= compare, the same level rule the CLINT applies to MTIP.
// Handlers acknowledge by programming the next compare value; a
// handler that forgets gets the re-latching storm any level-triggered
// controller delivers.
//
// Time advances only through Tick, keeping simulations deterministic.
type Timer struct {
	time    uint64
	compare uint64

	linePending bool

	// OnInterrupt reports line level changes.
	OnInterrupt func(high bool)
}

// NewTimer creates a timer with the compare register parked at the
// maximum, so it stays quiet until programmed.
func NewTimer() *Timer {
	return &Timer{compare: ^uint64(0)}
}

// Size implements mmio.Device.
func (t *Timer) Size() uint64 {
	return 0x1000
}

// Read implements mmio.Device.
func (t *Timer) Read(offset uint64, size int) (uint64, error) {
	if size != 4 {
		return 0, nil
	}

	switch offset {
	case TimerRegCmpLo:
		return t.compare & 0xffffffff, nil
	case TimerRegCmpHi:
		return t.compare >> 32, nil
	case TimerRegTimeLo:
		return t.time & 0xffffffff, nil
	case TimerRegTimeHi:
		return t.time >> 32, nil
	}

	return 0, nil
}

// Write implements mmio.Device.
func (t *Timer) Write(offset uint64, size int, value uint64) error {
	if size != 4 {
		return nil
	}

	switch offset {
	case TimerRegCmpLo:
		t.compare = (t.compare &^ 0xffffffff) | (value & 0xffffffff)
	case TimerRegCmpHi:
		t.compare = (t.compare & 0xffffffff) | ((value & 0xffffffff) << 32)
	}

	t.updateLine()
	return nil
}

// Tick advances time by n and re-evaluates the compare match.
func (t *Timer) Tick(n uint64) {
	t.time += n
	t.updateLine()
}

// Time returns the current counter value.
func (t *Timer) Time() uint64 {
	return t.time
}

// Compare returns the current compare value.
func (t *Timer) Compare() uint64 {
	return t.compare
}

// LineHigh reports the current interrupt line level.
func (t *Timer) LineHigh() bool {
	return t.linePending
}

func (t *Timer) updateLine() {
	high := t.time >= t.compare

	if high != t.linePending {
		t.linePending = high
		if t.OnInterrupt != nil {
			t.OnInterrupt(high)
		}
	}
}

var _ mmio.Device = (*Timer)(nil)
