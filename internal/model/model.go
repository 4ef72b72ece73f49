// Package model implements a register-accurate software model of a
// RISC-V platform-level interrupt controller, following the SiFive
// register layout. It backs the simulation harness and the driver
// tests with the same arbitration rules real silicon applies:
// per-source priorities, per-context enables and thresholds, and the
// claim/complete handshake with a level-sensitive gateway.
package model

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/plic/internal/mmio"
	"github.com/tinyrange/plic/internal/trace"
)

// Register block offsets within the controller's address space.
const (
	PriorityBase  = 0x000000 // Priority registers, one word per source
	PendingBase   = 0x001000 // Pending bits
	EnableBase    = 0x002000 // Enable bits, 0x80 bytes per context
	ThresholdBase = 0x200000 // Threshold and claim/complete, 0x1000 bytes per context
)

const (
	EnableStride  = 0x80
	ContextStride = 0x1000
)

// MaxSources is the layout limit: the priority block holds 1024 words
// and each context's enable block holds 1024 bits, source 0 reserved.
const MaxSources = 1023

// Config sizes a controller model.
type Config struct {
	// Sources is the number of interrupt sources, IDs 1..Sources.
	Sources uint32
	// Contexts is the number of claim/complete targets (one per hart
	// and privilege mode wired on the platform).
	Contexts uint32
	// MaxPriority is the largest priority value a source register
	// holds; writes above it saturate, as the WARL rules allow.
	MaxPriority uint32
}

// TargetLine receives level changes of a context's external interrupt
// output: high while a claimable source is pending for that context.
// SetLevel runs with the controller lock held and must not call back
// into the controller; latch the level and act on it elsewhere.
type TargetLine interface {
	SetLevel(high bool)
}

type targetLineFunc func(bool)

func (f targetLineFunc) SetLevel(high bool) {
	if f != nil {
		f(high)
	}
}

// TargetLineFromFunc adapts a level function to TargetLine.
func TargetLineFromFunc(fn func(high bool)) TargetLine {
	return targetLineFunc(fn)
}

type detachedTargetLine struct{}

func (detachedTargetLine) SetLevel(bool) {}

// TargetLineDetached returns a TargetLine that drops all signals.
func TargetLineDetached() TargetLine {
	return detachedTargetLine{}
}

// Stats counts controller activity, including the two kinds of misuse
// the hardware contract leaves undefined: claims that raced to an
// empty controller and completes for a source the context had not
// claimed.
type Stats struct {
	Claims           uint64
	Completes        uint64
	SpuriousClaims   uint64
	InvalidCompletes uint64
}

// PLIC is the controller model.
type PLIC struct {
	mu sync.Mutex

	sources     uint32
	contexts    uint32
	maxPriority uint32

	// Priority for each source, slot 0 reserved.
	priority []uint32

	// Gateway state: level is the raw input line, pending is the
	// latched request awaiting a claim.
	level   []uint32
	pending []uint32

	// Enable bits, threshold, and in-service source per context.
	enable    [][]uint32
	threshold []uint32
	claimed   []uint32

	lines []TargetLine
	stats Stats
}

// New creates a controller model. Lines default to detached; attach
// real targets with SetTargetLine before wiring sources.
func New(cfg Config) (*PLIC, error) {
	if cfg.Sources == 0 || cfg.Sources > MaxSources {
		return nil, fmt.Errorf("model: source count %d outside [1, %d]", cfg.Sources, MaxSources)
	}
	if cfg.Contexts == 0 {
		return nil, fmt.Errorf("model: at least one context required")
	}
	if cfg.MaxPriority == 0 {
		return nil, fmt.Errorf("model: max priority must be nonzero")
	}

	// Bit positions 0..Sources, so a source count that is a multiple
	// of 32 spills into one more word.
	words := cfg.Sources/32 + 1

	p := &PLIC{
		sources:     cfg.Sources,
		contexts:    cfg.Contexts,
		maxPriority: cfg.MaxPriority,
		priority:    make([]uint32, cfg.Sources+1),
		level:       make([]uint32, words),
		pending:     make([]uint32, words),
		enable:      make([][]uint32, cfg.Contexts),
		threshold:   make([]uint32, cfg.Contexts),
		claimed:     make([]uint32, cfg.Contexts),
		lines:       make([]TargetLine, cfg.Contexts),
	}
	for i := range p.enable {
		p.enable[i] = make([]uint32, words)
	}
	for i := range p.lines {
		p.lines[i] = TargetLineDetached()
	}
	return p, nil
}

// SetTargetLine attaches the external interrupt output of a context
// and drives it to the current level.
func (p *PLIC) SetTargetLine(context uint32, line TargetLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if context < p.contexts {
		if line == nil {
			line = TargetLineDetached()
		}
		p.lines[context] = line
		line.SetLevel(p.hasClaimable(context))
	}
}

// Size implements mmio.Device.
func (p *PLIC) Size() uint64 {
	return 0x0400_0000
}

// Read implements mmio.Device. Registers are 32 bits wide; other
// access sizes read as zero.
func (p *PLIC) Read(offset uint64, size int) (uint64, error) {
	if size != 4 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < PendingBase:
		source := offset / 4
		if source <= uint64(p.sources) {
			return uint64(p.priority[source]), nil
		}

	case offset >= PendingBase && offset < EnableBase:
		word := (offset - PendingBase) / 4
		if word < uint64(len(p.pending)) {
			return uint64(p.pending[word]), nil
		}

	case offset >= EnableBase && offset < ThresholdBase:
		relOffset := offset - EnableBase
		context := relOffset / EnableStride
		word := (relOffset % EnableStride) / 4
		if context < uint64(p.contexts) && word < uint64(len(p.pending)) {
			return uint64(p.enable[context][word]), nil
		}

	case offset >= ThresholdBase:
		relOffset := offset - ThresholdBase
		context := relOffset / ContextStride
		regOffset := relOffset % ContextStride

		if context < uint64(p.contexts) {
			switch regOffset {
			case 0: // Threshold
				return uint64(p.threshold[context]), nil
			case 4: // Claim
				return uint64(p.claim(uint32(context))), nil
			}
		}
	}

	return 0, nil
}

// Write implements mmio.Device. Registers are 32 bits wide; other
// access sizes are dropped.
func (p *PLIC) Write(offset uint64, size int, value uint64) error {
	if size != 4 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < PendingBase:
		source := offset / 4
		if source > 0 && source <= uint64(p.sources) { // Source 0 is reserved
			v := uint32(value)
			if v > p.maxPriority {
				v = p.maxPriority
			}
			p.priority[source] = v
			trace.Record(trace.KindPriority, 0, uint32(source), uint64(v))
		}

	case offset >= EnableBase && offset < ThresholdBase:
		relOffset := offset - EnableBase
		context := relOffset / EnableStride
		word := (relOffset % EnableStride) / 4
		if context < uint64(p.contexts) && word < uint64(len(p.pending)) {
			mask := p.validBits(uint32(word))
			old := p.enable[context][word]
			p.enable[context][word] = uint32(value) & mask
			for rest := old ^ p.enable[context][word]; rest != 0; {
				bit := uint32(bits.TrailingZeros32(rest))
				rest &^= 1 << bit
				id := uint32(word)*32 + bit
				if p.enable[context][word]&(1<<bit) != 0 {
					trace.Record(trace.KindEnable, uint32(context), id, 0)
				} else {
					trace.Record(trace.KindDisable, uint32(context), id, 0)
				}
			}
		}

	case offset >= ThresholdBase:
		relOffset := offset - ThresholdBase
		context := relOffset / ContextStride
		regOffset := relOffset % ContextStride

		if context < uint64(p.contexts) {
			switch regOffset {
			case 0: // Threshold
				v := uint32(value)
				if v > p.maxPriority {
					v = p.maxPriority
				}
				p.threshold[context] = v
				trace.Record(trace.KindThreshold, uint32(context), 0, uint64(v))
			case 4: // Complete
				p.complete(uint32(context), uint32(value))
			}
		}
	}

	p.updateLines()
	return nil
}

// validBits masks off enable bits beyond the wired source count, and
// bit 0 of word 0 for the reserved source.
func (p *PLIC) validBits(word uint32) uint32 {
	mask := uint32(0xffffffff)
	if word == 0 {
		mask &^= 1
	}
	top := p.sources + 1 // number of valid bit positions including slot 0
	if word*32+32 > top {
		rem := top - word*32
		mask &= (uint32(1) << rem) - 1
		if word == 0 {
			mask &^= 1
		}
	}
	return mask
}

// Raise drives a source's input line high. The gateway latches a
// pending request that stays claimable until serviced; if the line is
// still high when the handler completes, the request latches again.
func (p *PLIC) Raise(source uint32) {
	p.setLevel(source, true)
}

// Lower drives a source's input line low.
func (p *PLIC) Lower(source uint32) {
	p.setLevel(source, false)
}

func (p *PLIC) setLevel(source uint32, high bool) {
	if source == 0 || source > p.sources {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	word := source / 32
	bit := source % 32

	was := p.level[word]&(1<<bit) != 0
	if high {
		p.level[word] |= 1 << bit
		p.pending[word] |= 1 << bit
	} else {
		p.level[word] &^= 1 << bit
	}
	if high != was {
		if high {
			trace.Record(trace.KindRaise, 0, source, 0)
		} else {
			trace.Record(trace.KindLower, 0, source, 0)
		}
	}

	p.updateLines()
}

// Pulse latches a single edge-triggered request: claimable once, with
// no re-arm after completion.
func (p *PLIC) Pulse(source uint32) {
	if source == 0 || source > p.sources {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[source/32] |= 1 << (source % 32)
	trace.Record(trace.KindPulse, 0, source, 0)
	p.updateLines()
}

// claim picks the highest-priority pending source that is enabled and
// above threshold for the context, marks it in service, and clears its
// pending bit. RISC-V arbitration: higher priority value wins, ties go
// to the lowest source ID. A source another context already holds
// claimed is never handed out again until completed, even if a new
// request latched meanwhile.
func (p *PLIC) claim(context uint32) uint32 {
	var bestSource uint32
	var bestPriority uint32

	for source := uint32(1); source <= p.sources; source++ {
		word := source / 32
		bit := source % 32

		if (p.pending[word]&(1<<bit)) == 0 {
			continue
		}
		if (p.enable[context][word]&(1<<bit)) == 0 {
			continue
		}
		if p.inService(source) {
			continue
		}

		priority := p.priority[source]
		if priority <= p.threshold[context] {
			continue
		}

		if priority > bestPriority {
			bestPriority = priority
			bestSource = source
		}
	}

	if bestSource != 0 {
		word := bestSource / 32
		bit := bestSource % 32
		p.pending[word] &^= 1 << bit
		p.claimed[context] = bestSource
		p.stats.Claims++
		trace.Record(trace.KindClaim, context, bestSource, uint64(bestPriority))
	} else {
		p.stats.SpuriousClaims++
		trace.Record(trace.KindSpurious, context, 0, 0)
	}

	p.updateLines()
	return bestSource
}

// inService reports whether any context holds the source claimed.
func (p *PLIC) inService(source uint32) bool {
	for _, claimed := range p.claimed {
		if claimed == source {
			return true
		}
	}
	return false
}

// complete retires an in-service source. Completing a source the
// context never claimed is undefined per the hardware contract; the
// model counts it and otherwise ignores the write.
func (p *PLIC) complete(context uint32, source uint32) {
	if source == 0 || source > p.sources || p.claimed[context] != source {
		p.stats.InvalidCompletes++
		trace.Record(trace.KindComplete, context, source, 0)
		return
	}

	p.claimed[context] = 0
	p.stats.Completes++
	trace.Record(trace.KindComplete, context, source, 1)

	// Level-sensitive gateway: a line still high re-latches the
	// request as soon as the handler finishes.
	word := source / 32
	bit := source % 32
	if p.level[word]&(1<<bit) != 0 {
		p.pending[word] |= 1 << bit
	}

	p.updateLines()
}

// updateLines recomputes every context's external interrupt output.
func (p *PLIC) updateLines() {
	for context := uint32(0); context < p.contexts; context++ {
		p.lines[context].SetLevel(p.hasClaimable(context))
	}
}

// hasClaimable reports whether a pending enabled source above the
// context's threshold exists, excluding sources held in service.
func (p *PLIC) hasClaimable(context uint32) bool {
	for source := uint32(1); source <= p.sources; source++ {
		word := source / 32
		bit := source % 32

		if (p.pending[word]&(1<<bit)) == 0 {
			continue
		}
		if (p.enable[context][word]&(1<<bit)) == 0 {
			continue
		}
		if p.inService(source) {
			continue
		}
		if p.priority[source] > p.threshold[context] {
			return true
		}
	}

	return false
}

// Introspection ----------------------------------------------------------

// Sources returns the wired source count.
func (p *PLIC) Sources() uint32 {
	return p.sources
}

// Contexts returns the context count.
func (p *PLIC) Contexts() uint32 {
	return p.contexts
}

// Priority returns the stored priority of a source.
func (p *PLIC) Priority(source uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if source > p.sources {
		return 0
	}
	return p.priority[source]
}

// Enabled reports whether a source is enabled for a context.
func (p *PLIC) Enabled(context, source uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if context >= p.contexts || source == 0 || source > p.sources {
		return false
	}
	return p.enable[context][source/32]&(1<<(source%32)) != 0
}

// Threshold returns a context's threshold.
func (p *PLIC) Threshold(context uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if context >= p.contexts {
		return 0
	}
	return p.threshold[context]
}

// Pending reports whether a source has a latched request.
func (p *PLIC) Pending(source uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if source == 0 || source > p.sources {
		return false
	}
	return p.pending[source/32]&(1<<(source%32)) != 0
}

// Claimed returns the source currently in service for a context, or 0.
func (p *PLIC) Claimed(context uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if context >= p.contexts {
		return 0
	}
	return p.claimed[context]
}

// Stats returns a snapshot of the activity counters.
func (p *PLIC) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

var _ mmio.Device = (*PLIC)(nil)
