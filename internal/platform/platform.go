// Package platform describes where a platform-level interrupt
// controller lives and how its register blocks are replicated per
// hart. Profiles come from the built-in board descriptions, from YAML
// board files, or from a flattened device tree.
package platform

import (
	"fmt"

	"github.com/tinyrange/plic/internal/driver"
	"github.com/tinyrange/plic/internal/mmio"
)

// Mode selects which privilege level's context block a hart's driver
// binds to on boards that expose both.
type Mode int

const (
	// ModeMachine targets the machine-mode context block.
	ModeMachine Mode = iota
	// ModeSupervisor targets the supervisor-mode context block.
	ModeSupervisor
)

func (m Mode) String() string {
	switch m {
	case ModeMachine:
		return "machine"
	case ModeSupervisor:
		return "supervisor"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Profile is one board's interrupt controller description. Offsets are
// relative to Base; strides are per hart, so boards that interleave
// context blocks for several privilege modes fold the interleaving
// into the stride.
type Profile struct {
	Name string `yaml:"name"`

	Base        uint64 `yaml:"base"`
	Size        uint64 `yaml:"size"`
	NumSources  uint32 `yaml:"num_sources"`
	MaxPriority uint32 `yaml:"max_priority"`
	NumHarts    int    `yaml:"num_harts"`

	PriorityOffset  uint64 `yaml:"priority_offset"`
	EnableOffset    uint64 `yaml:"enable_offset"`
	EnableStride    uint64 `yaml:"enable_stride"`
	ThresholdOffset uint64 `yaml:"threshold_offset"`
	ThresholdStride uint64 `yaml:"threshold_stride"`
	ClaimOffset     uint64 `yaml:"claim_offset"`
	ClaimStride     uint64 `yaml:"claim_stride"`

	UARTBase uint64 `yaml:"uart_base"`
	UARTIRQ  uint32 `yaml:"uart_irq"`

	TimerBase uint64 `yaml:"timer_base"`
	TimerIRQ  uint32 `yaml:"timer_irq"`

	MemoryBase uint64 `yaml:"memory_base"`
	MemorySize uint64 `yaml:"memory_size"`
}

// DriverParams binds the profile to a register accessor and a hart ID
// reader, producing the description a driver needs.
func (p *Profile) DriverParams(io mmio.RegisterIO, hartID func() uint64) driver.Params {
	return driver.Params{
		Base:            p.Base,
		NumSources:      p.NumSources,
		MaxPriority:     p.MaxPriority,
		PriorityOffset:  p.PriorityOffset,
		EnableOffset:    p.EnableOffset,
		EnableStride:    p.EnableStride,
		ThresholdOffset: p.ThresholdOffset,
		ThresholdStride: p.ThresholdStride,
		ClaimOffset:     p.ClaimOffset,
		ClaimStride:     p.ClaimStride,
		HartID:          hartID,
		IO:              io,
	}
}

// applyDefaults fills the standard SiFive register layout into unset
// fields. A priority offset of 0 is the real value and never needs a
// default.
func (p *Profile) applyDefaults() {
	if p.Name == "" {
		p.Name = "custom"
	}
	if p.Size == 0 {
		p.Size = 0x0400_0000
	}
	if p.MaxPriority == 0 {
		p.MaxPriority = 7
	}
	if p.NumHarts == 0 {
		p.NumHarts = 1
	}
	if p.EnableOffset == 0 {
		p.EnableOffset = 0x2000
	}
	if p.EnableStride == 0 {
		p.EnableStride = 0x80
	}
	if p.ThresholdOffset == 0 {
		p.ThresholdOffset = 0x20_0000
	}
	if p.ThresholdStride == 0 {
		p.ThresholdStride = 0x1000
	}
	if p.ClaimOffset == 0 {
		p.ClaimOffset = p.ThresholdOffset + 4
	}
	if p.ClaimStride == 0 {
		p.ClaimStride = p.ThresholdStride
	}
	if p.MemoryBase == 0 {
		p.MemoryBase = 0x8000_0000
	}
	if p.MemorySize == 0 {
		p.MemorySize = 128 << 20
	}
}

func (p *Profile) validate() error {
	if p.Base == 0 {
		return fmt.Errorf("platform: profile %q has no controller base address", p.Name)
	}
	if p.NumSources < 1 || p.NumSources > 1023 {
		return fmt.Errorf("platform: profile %q: %d sources outside [1, 1023]", p.Name, p.NumSources)
	}
	if p.NumHarts < 1 {
		return fmt.Errorf("platform: profile %q: hart count %d", p.Name, p.NumHarts)
	}
	if p.UARTBase != 0 {
		if p.UARTIRQ < 1 || p.UARTIRQ > p.NumSources {
			return fmt.Errorf("platform: profile %q: uart irq %d outside [1, %d]", p.Name, p.UARTIRQ, p.NumSources)
		}
	}
	if p.TimerBase != 0 {
		if p.TimerIRQ < 1 || p.TimerIRQ > p.NumSources {
			return fmt.Errorf("platform: profile %q: timer irq %d outside [1, %d]", p.Name, p.TimerIRQ, p.NumSources)
		}
		if p.UARTBase != 0 && p.TimerIRQ == p.UARTIRQ {
			return fmt.Errorf("platform: profile %q: uart and timer share interrupt %d", p.Name, p.TimerIRQ)
		}
	}
	return nil
}

// QemuVirt describes the controller QEMU's riscv64 virt machine
// exposes: 127 wired sources, priorities 1..7, and a machine plus a
// supervisor context per hart, interleaved in that order.
func QemuVirt(numHarts int, mode Mode) *Profile {
	if numHarts <= 0 {
		numHarts = 1
	}
	p := &Profile{
		Name:        fmt.Sprintf("qemu-virt-%s", mode),
		Base:        0x0c00_0000,
		Size:        0x0400_0000,
		NumSources:  127,
		MaxPriority: 7,
		NumHarts:    numHarts,

		// Two context blocks per hart, so the per-hart stride is twice
		// the per-context spacing.
		EnableOffset:    0x2000,
		EnableStride:    0x100,
		ThresholdOffset: 0x20_0000,
		ThresholdStride: 0x2000,

		UARTBase: 0x1000_0000,
		UARTIRQ:  10,

		TimerBase: 0x10_1000,
		TimerIRQ:  11,

		MemoryBase: 0x8000_0000,
		MemorySize: 128 << 20,
	}
	if mode == ModeSupervisor {
		p.EnableOffset += 0x80
		p.ThresholdOffset += 0x1000
	}
	p.ClaimOffset = p.ThresholdOffset + 4
	p.ClaimStride = p.ThresholdStride
	return p
}

// HiFive1 describes the FE310-G002 on the HiFive1 Rev B: 52 wired
// sources, priorities 1..7, one hart with a single machine-mode
// context.
func HiFive1() *Profile {
	return &Profile{
		Name:        "hifive1-revb",
		Base:        0x0c00_0000,
		Size:        0x0400_0000,
		NumSources:  52,
		MaxPriority: 7,
		NumHarts:    1,

		EnableOffset:    0x2000,
		EnableStride:    0x80,
		ThresholdOffset: 0x20_0000,
		ThresholdStride: 0x1000,
		ClaimOffset:     0x20_0004,
		ClaimStride:     0x1000,

		UARTBase: 0x1001_3000,
		UARTIRQ:  3,

		TimerBase: 0x1001_5000,
		TimerIRQ:  40,

		MemoryBase: 0x8000_0000,
		MemorySize: 0x4000,
	}
}
