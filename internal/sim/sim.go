// Package sim assembles a complete interrupt path in software: the
// register-accurate controller model and the peripheral devices on one
// bus, and a driver instance per hart claiming through it. Runs are
// stepped and deterministic, which makes lost, duplicated, and stuck
// interrupts reproducible instead of intermittent.
package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/tinyrange/plic/internal/driver"
	"github.com/tinyrange/plic/internal/mmio"
	"github.com/tinyrange/plic/internal/model"
	"github.com/tinyrange/plic/internal/platform"
	"github.com/tinyrange/plic/internal/sources"
	"github.com/tinyrange/plic/internal/trace"
)

// Source wires one generic interrupt source into a run.
type Source struct {
	IRQ      uint32 `yaml:"irq"`
	Priority uint32 `yaml:"priority"`
	// Harts lists the harts that enable the source; empty means hart 0.
	Harts []uint64 `yaml:"harts"`
}

// Config describes a machine to assemble.
type Config struct {
	Profile *platform.Profile

	// Console receives the UART's transmit output.
	Console io.Writer

	Logger *slog.Logger

	// Sources are the generic sources beyond the UART and timer.
	Sources []Source

	// Thresholds overrides the priority floor per hart; unlisted harts
	// stay at 0.
	Thresholds map[uint64]uint32

	// UARTPriority and TimerPriority default to 2 and 1.
	UARTPriority  uint32
	TimerPriority uint32
}

// hart is one claim/complete target and its driver.
type hart struct {
	id     uint64
	ctrl   *driver.Controller
	line   atomic.Bool
	counts map[uint32]uint64
}

// Machine is an assembled interrupt path. The exported fields give
// tests and tools direct access to the devices; Run drives the whole
// thing.
type Machine struct {
	Profile *platform.Profile
	Bus     *mmio.Bus
	PLIC    *model.PLIC
	UART    *sources.UART
	Timer   *sources.Timer

	logger   *slog.Logger
	harts    []*hart
	steps    uint64
	received []byte
}

// NewMachine assembles devices, bus and per-hart drivers from the
// profile and brings every source to a known state: masked, priority
// assigned, handlers registered, thresholds set.
func NewMachine(cfg Config) (*Machine, error) {
	prof := cfg.Profile
	if prof == nil {
		return nil, fmt.Errorf("sim: no profile")
	}
	if err := checkLayout(prof); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	console := cfg.Console
	if console == nil {
		console = io.Discard
	}

	lastContext := contextOf(prof, uint64(prof.NumHarts-1))
	plic, err := model.New(model.Config{
		Sources:     prof.NumSources,
		Contexts:    lastContext + 1,
		MaxPriority: prof.MaxPriority,
	})
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	bus := mmio.NewBus()
	bus.AddDevice(prof.Base, plic)

	m := &Machine{
		Profile: prof,
		Bus:     bus,
		PLIC:    plic,
		logger:  logger,
	}

	if prof.UARTBase != 0 {
		m.UART = sources.NewUART(console)
		m.UART.OnInterrupt = m.lineFunc(prof.UARTIRQ)
		bus.AddDevice(prof.UARTBase, m.UART)
	}
	if prof.TimerBase != 0 {
		m.Timer = sources.NewTimer()
		m.Timer.OnInterrupt = m.lineFunc(prof.TimerIRQ)
		bus.AddDevice(prof.TimerBase, m.Timer)
	} else {
		// Keep the step loop free of nil checks.
		m.Timer = sources.NewTimer()
	}

	busIO := &mmio.BusIO{Bus: bus}
	for i := 0; i < prof.NumHarts; i++ {
		id := uint64(i)
		h := &hart{id: id, counts: make(map[uint32]uint64)}

		ctrl, err := driver.New(prof.DriverParams(busIO, func() uint64 { return id }))
		if err != nil {
			return nil, fmt.Errorf("sim: hart %d: %w", i, err)
		}
		h.ctrl = ctrl

		plic.SetTargetLine(contextOf(prof, id), model.TargetLineFromFunc(func(high bool) {
			h.line.Store(high)
		}))
		m.harts = append(m.harts, h)
	}

	if err := m.configure(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// lineFunc routes a device's interrupt line into the controller model.
func (m *Machine) lineFunc(irq uint32) func(high bool) {
	return func(high bool) {
		if high {
			m.PLIC.Raise(irq)
		} else {
			m.PLIC.Lower(irq)
		}
	}
}

// configure initializes every hart's driver and applies the source and
// threshold wiring.
func (m *Machine) configure(cfg Config) error {
	prof := m.Profile

	uartPriority := cfg.UARTPriority
	if uartPriority == 0 {
		uartPriority = 2
	}
	timerPriority := cfg.TimerPriority
	if timerPriority == 0 {
		timerPriority = 1
	}

	for _, h := range m.harts {
		h.ctrl.Init()
	}

	for _, src := range cfg.Sources {
		if src.IRQ < 1 || src.IRQ > prof.NumSources {
			return fmt.Errorf("sim: source %d outside [1, %d]", src.IRQ, prof.NumSources)
		}
		if src.Priority > prof.MaxPriority {
			return fmt.Errorf("sim: source %d priority %d above maximum %d", src.IRQ, src.Priority, prof.MaxPriority)
		}
		if m.UART != nil && src.IRQ == prof.UARTIRQ {
			return fmt.Errorf("sim: source %d is the uart interrupt", src.IRQ)
		}
		if prof.TimerBase != 0 && src.IRQ == prof.TimerIRQ {
			return fmt.Errorf("sim: source %d is the timer interrupt", src.IRQ)
		}

		m.harts[0].ctrl.SetPriority(src.IRQ, src.Priority)
		for _, h := range m.harts {
			h.ctrl.SetCallback(src.IRQ, m.countingHandler(h, src.IRQ))
		}

		enableOn := src.Harts
		if len(enableOn) == 0 {
			enableOn = []uint64{0}
		}
		for _, id := range enableOn {
			if id >= uint64(prof.NumHarts) {
				return fmt.Errorf("sim: source %d names hart %d of %d", src.IRQ, id, prof.NumHarts)
			}
			m.harts[id].ctrl.Enable(src.IRQ)
		}
	}

	if m.UART != nil {
		// The 16550 keeps its line low until receive interrupts are
		// enabled at the device.
		if err := m.Bus.Write8(prof.UARTBase+sources.UARTRegIER, sources.UARTIERRxAvailable); err != nil {
			return fmt.Errorf("sim: programming uart: %w", err)
		}
		m.harts[0].ctrl.SetPriority(prof.UARTIRQ, uartPriority)
		for _, h := range m.harts {
			h.ctrl.SetCallback(prof.UARTIRQ, m.uartHandler(h))
		}
		// Console interrupts go to hart 0, as firmware usually routes
		// them.
		m.harts[0].ctrl.Enable(prof.UARTIRQ)
	}
	if prof.TimerBase != 0 {
		m.harts[0].ctrl.SetPriority(prof.TimerIRQ, timerPriority)
		for _, h := range m.harts {
			h.ctrl.SetCallback(prof.TimerIRQ, m.timerHandler(h))
		}
		m.harts[0].ctrl.Enable(prof.TimerIRQ)
	}

	for id, threshold := range cfg.Thresholds {
		if id >= uint64(prof.NumHarts) {
			return fmt.Errorf("sim: threshold names hart %d of %d", id, prof.NumHarts)
		}
		if threshold > prof.MaxPriority {
			return fmt.Errorf("sim: hart %d threshold %d above maximum %d", id, threshold, prof.MaxPriority)
		}
		m.harts[id].ctrl.SetThreshold(threshold)
	}

	return nil
}

// countingHandler services a generic source: the dispatch itself is
// the observable effect.
func (m *Machine) countingHandler(h *hart, irq uint32) driver.Handler {
	return func(id uint32) {
		h.counts[id]++
		trace.Record(trace.KindDispatch, uint32(h.id), id, m.steps)
		m.logger.Debug("dispatch", "hart", h.id, "source", id)
	}
}

// uartHandler drains the receive fifo, which is what drops a 16550's
// level-triggered line.
func (m *Machine) uartHandler(h *hart) driver.Handler {
	return func(id uint32) {
		h.counts[id]++
		trace.Record(trace.KindDispatch, uint32(h.id), id, m.steps)

		base := m.Profile.UARTBase
		for {
			lsr, err := m.Bus.Read8(base + sources.UARTRegLSR)
			if err != nil || lsr&sources.UARTLSRDataReady == 0 {
				break
			}
			b, err := m.Bus.Read8(base + sources.UARTRegRBR)
			if err != nil {
				break
			}
			m.received = append(m.received, b)
		}
		m.logger.Debug("uart service", "hart", h.id, "drained", len(m.received))
	}
}

// timerHandler acknowledges a compare match by parking the compare
// register at the maximum; rescheduling is the scenario's business.
func (m *Machine) timerHandler(h *hart) driver.Handler {
	return func(id uint32) {
		h.counts[id]++
		trace.Record(trace.KindDispatch, uint32(h.id), id, m.steps)

		base := m.Profile.TimerBase
		_ = m.Bus.Write32(base+sources.TimerRegCmpHi, 0xffffffff)
		_ = m.Bus.Write32(base+sources.TimerRegCmpLo, 0xffffffff)
		m.logger.Debug("timer service", "hart", h.id, "time", m.Timer.Time())
	}
}

// Run advances the machine: each step applies the events scheduled for
// it, ticks the timer once, then lets every hart whose external line
// is asserted claim until the line drops. Event At values are relative
// to this call.
func (m *Machine) Run(ctx context.Context, steps int, events []Event) (*Report, error) {
	evs := make([]Event, len(events))
	copy(evs, events)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].At < evs[j].At })

	next := 0
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for next < len(evs) && evs[next].At <= step {
			if err := m.apply(evs[next], step); err != nil {
				return nil, err
			}
			next++
		}

		m.Timer.Tick(1)

		for _, h := range m.harts {
			// A line that stays high after claiming every wired source
			// means a handler is not quiescing its device.
			budget := int(m.Profile.NumSources) + 1
			for h.line.Load() {
				if budget == 0 {
					return nil, fmt.Errorf("sim: hart %d interrupt line stuck high at step %d", h.id, step)
				}
				budget--
				h.ctrl.Dispatch()
			}
		}

		m.steps++
	}

	return m.Report(), nil
}

func (m *Machine) apply(ev Event, step int) error {
	switch {
	case ev.UART != "":
		if m.UART == nil {
			return fmt.Errorf("sim: event at step %d feeds a uart the profile does not map", step)
		}
		m.logger.Debug("event", "step", step, "uart", len(ev.UART))
		m.UART.Feed([]byte(ev.UART))
	case ev.Pulse != 0:
		if ev.Pulse > m.Profile.NumSources {
			return fmt.Errorf("sim: event at step %d pulses source %d outside [1, %d]", step, ev.Pulse, m.Profile.NumSources)
		}
		m.logger.Debug("event", "step", step, "pulse", ev.Pulse)
		m.PLIC.Pulse(ev.Pulse)
	case ev.Timer != 0:
		if m.Profile.TimerBase == 0 {
			return fmt.Errorf("sim: event at step %d arms a timer the profile does not map", step)
		}
		deadline := m.Timer.Time() + ev.Timer
		m.logger.Debug("event", "step", step, "timer", ev.Timer)
		// High word first, so the compare never passes through a value
		// below the deadline.
		base := m.Profile.TimerBase
		_ = m.Bus.Write32(base+sources.TimerRegCmpHi, uint32(deadline>>32))
		_ = m.Bus.Write32(base+sources.TimerRegCmpLo, uint32(deadline))
	case ev.Tick != 0:
		m.logger.Debug("event", "step", step, "tick", ev.Tick)
		m.Timer.Tick(ev.Tick)
	}
	return nil
}

// Harts returns the number of assembled harts.
func (m *Machine) Harts() int {
	return len(m.harts)
}

// HartLineHigh reports whether a hart's external interrupt line is
// asserted.
func (m *Machine) HartLineHigh(id int) bool {
	return m.harts[id].line.Load()
}

// Report summarizes everything observable about a run.
type Report struct {
	Steps      uint64
	Dispatches map[uint64]map[uint32]uint64
	Received   []byte
	Stats      model.Stats
}

// TotalDispatches sums handler invocations across harts and sources.
func (r *Report) TotalDispatches() uint64 {
	var total uint64
	for _, per := range r.Dispatches {
		for _, n := range per {
			total += n
		}
	}
	return total
}

// Report snapshots the machine's counters.
func (m *Machine) Report() *Report {
	r := &Report{
		Steps:      m.steps,
		Dispatches: make(map[uint64]map[uint32]uint64),
		Received:   append([]byte(nil), m.received...),
		Stats:      m.PLIC.Stats(),
	}
	for _, h := range m.harts {
		if len(h.counts) == 0 {
			continue
		}
		per := make(map[uint32]uint64, len(h.counts))
		for irq, n := range h.counts {
			per[irq] = n
		}
		r.Dispatches[h.id] = per
	}
	return r
}

// checkLayout verifies the profile's register addressing lands on the
// device model's blocks, so driver and model agree on where everything
// lives.
func checkLayout(p *platform.Profile) error {
	if p.NumHarts < 1 {
		return fmt.Errorf("sim: profile %q has no harts", p.Name)
	}
	if p.PriorityOffset != model.PriorityBase {
		return fmt.Errorf("sim: profile %q priority block at 0x%x, device model has it at 0x%x", p.Name, p.PriorityOffset, uint64(model.PriorityBase))
	}
	if p.EnableOffset < model.EnableBase || (p.EnableOffset-model.EnableBase)%model.EnableStride != 0 {
		return fmt.Errorf("sim: profile %q enable block at 0x%x does not align with the device model", p.Name, p.EnableOffset)
	}
	if p.ThresholdOffset < model.ThresholdBase || (p.ThresholdOffset-model.ThresholdBase)%model.ContextStride != 0 {
		return fmt.Errorf("sim: profile %q threshold block at 0x%x does not align with the device model", p.Name, p.ThresholdOffset)
	}
	if p.EnableStride%model.EnableStride != 0 || p.ThresholdStride%model.ContextStride != 0 {
		return fmt.Errorf("sim: profile %q strides 0x%x/0x%x do not align with the device model", p.Name, p.EnableStride, p.ThresholdStride)
	}
	if p.ClaimOffset != p.ThresholdOffset+4 || p.ClaimStride != p.ThresholdStride {
		return fmt.Errorf("sim: profile %q claim register is not threshold+4", p.Name)
	}
	// The enable and threshold blocks must pick the same context for
	// every hart.
	if (p.EnableOffset-model.EnableBase)/model.EnableStride != (p.ThresholdOffset-model.ThresholdBase)/model.ContextStride {
		return fmt.Errorf("sim: profile %q enable and threshold blocks bind different contexts", p.Name)
	}
	if p.EnableStride/model.EnableStride != p.ThresholdStride/model.ContextStride {
		return fmt.Errorf("sim: profile %q enable and threshold strides bind different contexts", p.Name)
	}
	return nil
}

// contextOf maps a hart to the device model context its profile
// addresses reach.
func contextOf(p *platform.Profile, hartID uint64) uint32 {
	return uint32((p.ThresholdOffset - model.ThresholdBase + hartID*p.ThresholdStride) / model.ContextStride)
}
