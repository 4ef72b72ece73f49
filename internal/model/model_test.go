package model

import "testing"

// lineRecorder captures level transitions of a context output.
type lineRecorder struct {
	level   bool
	changes int
}

func (l *lineRecorder) SetLevel(high bool) {
	if high != l.level {
		l.changes++
	}
	l.level = high
}

func newTestPLIC(t *testing.T, sources, contexts uint32) *PLIC {
	t.Helper()
	p, err := New(Config{Sources: sources, Contexts: contexts, MaxPriority: 7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func writeReg(t *testing.T, p *PLIC, offset uint64, value uint32) {
	t.Helper()
	if err := p.Write(offset, 4, uint64(value)); err != nil {
		t.Fatalf("write 0x%x: %v", offset, err)
	}
}

func readReg(t *testing.T, p *PLIC, offset uint64) uint32 {
	t.Helper()
	v, err := p.Read(offset, 4)
	if err != nil {
		t.Fatalf("read 0x%x: %v", offset, err)
	}
	return uint32(v)
}

func claimReg(context uint32) uint64 {
	return ThresholdBase + uint64(context)*ContextStride + 4
}

func enableReg(context, word uint32) uint64 {
	return EnableBase + uint64(context)*EnableStride + uint64(word)*4
}

func TestPriorityArbitration(t *testing.T) {
	p := newTestPLIC(t, 8, 1)

	writeReg(t, p, PriorityBase+2*4, 3)
	writeReg(t, p, PriorityBase+4*4, 7)
	writeReg(t, p, enableReg(0, 0), (1<<2)|(1<<4))

	p.Pulse(2)
	p.Pulse(4)

	if got := readReg(t, p, claimReg(0)); got != 4 {
		t.Fatalf("first claim = %d, want 4 (priority 7 beats 3)", got)
	}
	writeReg(t, p, claimReg(0), 4)

	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("second claim = %d, want 2", got)
	}
	writeReg(t, p, claimReg(0), 2)

	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("empty claim = %d, want 0", got)
	}
}

func TestArbitrationTieGoesToLowestID(t *testing.T) {
	p := newTestPLIC(t, 8, 1)

	writeReg(t, p, PriorityBase+3*4, 5)
	writeReg(t, p, PriorityBase+6*4, 5)
	writeReg(t, p, enableReg(0, 0), (1<<3)|(1<<6))

	p.Pulse(6)
	p.Pulse(3)

	if got := readReg(t, p, claimReg(0)); got != 3 {
		t.Fatalf("claim = %d, want 3 on equal priority", got)
	}
}

func TestThresholdSuppression(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+1*4, 2)
	writeReg(t, p, enableReg(0, 0), 1<<1)
	writeReg(t, p, ThresholdBase, 2) // threshold == priority suppresses

	p.Pulse(1)

	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("claim = %d, want 0 while suppressed", got)
	}

	writeReg(t, p, ThresholdBase, 1)
	if got := readReg(t, p, claimReg(0)); got != 1 {
		t.Fatalf("claim = %d, want 1 after lowering threshold", got)
	}
}

func TestDisabledSourceNeverClaims(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+3*4, 7)
	p.Pulse(3)

	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("claim = %d, want 0 with enable bit clear", got)
	}
	if !p.Pending(3) {
		t.Fatalf("request must stay pending while disabled")
	}
}

func TestClaimMasksUntilComplete(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+2*4, 1)
	writeReg(t, p, enableReg(0, 0), 1<<2)

	p.Raise(2)

	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("claim = %d, want 2", got)
	}
	if got := p.Claimed(0); got != 2 {
		t.Fatalf("in-service = %d, want 2", got)
	}

	// The line is still high, but the gateway holds new requests
	// until completion.
	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("claim while in service = %d, want 0", got)
	}

	writeReg(t, p, claimReg(0), 2)

	// Level still high: the request re-latches after complete.
	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("claim after complete = %d, want 2 (line held high)", got)
	}
	writeReg(t, p, claimReg(0), 2)

	p.Lower(2)
	writeReg(t, p, claimReg(0), 0) // complete of 0 is ignored
	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("claim after lower = %d, want 0", got)
	}
}

func TestPulseIsOneShot(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+1*4, 1)
	writeReg(t, p, enableReg(0, 0), 1<<1)

	p.Pulse(1)

	if got := readReg(t, p, claimReg(0)); got != 1 {
		t.Fatalf("claim = %d, want 1", got)
	}
	writeReg(t, p, claimReg(0), 1)

	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("claim = %d, want 0; edge request must not re-latch", got)
	}
}

func TestInvalidCompleteCounted(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+1*4, 1)
	writeReg(t, p, enableReg(0, 0), 1<<1)
	p.Pulse(1)

	if got := readReg(t, p, claimReg(0)); got != 1 {
		t.Fatalf("claim = %d, want 1", got)
	}

	writeReg(t, p, claimReg(0), 3) // never claimed
	writeReg(t, p, claimReg(0), 1)

	stats := p.Stats()
	if stats.InvalidCompletes != 1 {
		t.Fatalf("invalid completes = %d, want 1", stats.InvalidCompletes)
	}
	if stats.Completes != 1 {
		t.Fatalf("completes = %d, want 1", stats.Completes)
	}
}

func TestContextsAreIndependent(t *testing.T) {
	p := newTestPLIC(t, 8, 2)

	writeReg(t, p, PriorityBase+5*4, 3)
	writeReg(t, p, enableReg(0, 0), 1<<5)
	writeReg(t, p, enableReg(1, 0), 1<<5)

	p.Raise(5)

	if got := readReg(t, p, claimReg(0)); got != 5 {
		t.Fatalf("context 0 claim = %d, want 5", got)
	}

	// Context 0 claimed it; the pending bit is gone for everyone.
	if got := readReg(t, p, claimReg(1)); got != 0 {
		t.Fatalf("context 1 claim = %d, want 0 after context 0 won", got)
	}

	p.Lower(5)
	writeReg(t, p, claimReg(0), 5)
}

func TestInServiceSourceHeldUntilComplete(t *testing.T) {
	p := newTestPLIC(t, 8, 2)

	writeReg(t, p, PriorityBase+2*4, 3)
	writeReg(t, p, enableReg(0, 0), 1<<2)
	writeReg(t, p, enableReg(1, 0), 1<<2)

	p.Pulse(2)
	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("claim = %d, want 2", got)
	}

	// A new edge while the source is in service latches but must not
	// reach arbitration until the first service completes.
	p.Pulse(2)
	if !p.Pending(2) {
		t.Fatalf("second edge must stay latched")
	}
	if got := readReg(t, p, claimReg(1)); got != 0 {
		t.Fatalf("context 1 claim = %d, want 0 while context 0 services it", got)
	}
	if got := readReg(t, p, claimReg(0)); got != 0 {
		t.Fatalf("re-claim = %d, want 0 while in service", got)
	}

	writeReg(t, p, claimReg(0), 2)
	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("claim after complete = %d, want 2 (held edge)", got)
	}
}

func TestTargetLineFollowsClaimability(t *testing.T) {
	p := newTestPLIC(t, 4, 1)
	line := &lineRecorder{}
	p.SetTargetLine(0, line)

	writeReg(t, p, PriorityBase+2*4, 4)
	writeReg(t, p, enableReg(0, 0), 1<<2)

	if line.level {
		t.Fatalf("line high with nothing pending")
	}

	p.Raise(2)
	if !line.level {
		t.Fatalf("line low with a claimable source pending")
	}

	if got := readReg(t, p, claimReg(0)); got != 2 {
		t.Fatalf("claim = %d, want 2", got)
	}
	if line.level {
		t.Fatalf("line high while the only request is in service")
	}

	p.Lower(2)
	writeReg(t, p, claimReg(0), 2)
	if line.level {
		t.Fatalf("line high after lower and complete")
	}
}

func TestPriorityWritesSaturate(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase+1*4, 250)
	if got := p.Priority(1); got != 7 {
		t.Fatalf("priority = %d, want saturation at 7", got)
	}

	writeReg(t, p, ThresholdBase, 99)
	if got := p.Threshold(0); got != 7 {
		t.Fatalf("threshold = %d, want saturation at 7", got)
	}
}

func TestReservedSourceZero(t *testing.T) {
	p := newTestPLIC(t, 4, 1)

	writeReg(t, p, PriorityBase, 7) // slot 0 is read-only zero
	if got := readReg(t, p, PriorityBase); got != 0 {
		t.Fatalf("priority[0] = %d, want 0", got)
	}

	writeReg(t, p, enableReg(0, 0), 0xffffffff)
	if got := readReg(t, p, enableReg(0, 0)); got&1 != 0 {
		t.Fatalf("enable bit 0 stuck: 0x%x", got)
	}
	// Only bits 1..4 exist for a 4-source controller.
	if got := readReg(t, p, enableReg(0, 0)); got != 0x1e {
		t.Fatalf("enable word = 0x%x, want 0x1e", got)
	}
}

func TestPendingRegisterReadback(t *testing.T) {
	p := newTestPLIC(t, 40, 1)

	p.Pulse(33)

	if got := readReg(t, p, PendingBase+4); got != 1<<1 {
		t.Fatalf("pending word 1 = 0x%x, want bit 1 set", got)
	}
	if got := readReg(t, p, PendingBase); got != 0 {
		t.Fatalf("pending word 0 = 0x%x, want 0", got)
	}
}

func TestSourceCountOnWordBoundary(t *testing.T) {
	p := newTestPLIC(t, 32, 1)

	writeReg(t, p, PriorityBase+32*4, 1)
	writeReg(t, p, enableReg(0, 1), 1) // source 32 lives in word 1 bit 0
	p.Pulse(32)

	if got := readReg(t, p, claimReg(0)); got != 32 {
		t.Fatalf("claim = %d, want 32", got)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{Sources: 0, Contexts: 1, MaxPriority: 7}); err == nil {
		t.Fatalf("expected error for zero sources")
	}
	if _, err := New(Config{Sources: MaxSources + 1, Contexts: 1, MaxPriority: 7}); err == nil {
		t.Fatalf("expected error for too many sources")
	}
	if _, err := New(Config{Sources: 4, Contexts: 0, MaxPriority: 7}); err == nil {
		t.Fatalf("expected error for zero contexts")
	}
	if _, err := New(Config{Sources: 4, Contexts: 1, MaxPriority: 0}); err == nil {
		t.Fatalf("expected error for zero max priority")
	}
}
