package platform

import (
	"fmt"

	"github.com/tinyrange/plic/internal/fdt"
)

// FromDeviceTree builds a profile from a flattened device tree blob,
// assuming the virt-style context arrangement of one machine and one
// supervisor block per hart. Device trees do not carry the priority
// register width, so MaxPriority takes the SiFive value of 7.
func FromDeviceTree(blob []byte, mode Mode) (*Profile, error) {
	info, err := fdt.Discover(blob)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Name:        fmt.Sprintf("device-tree-%s", mode),
		Base:        info.Base,
		Size:        info.Size,
		NumSources:  info.NumSources,
		MaxPriority: 7,
		NumHarts:    info.NumHarts,

		EnableOffset:    0x2000,
		EnableStride:    0x100,
		ThresholdOffset: 0x20_0000,
		ThresholdStride: 0x2000,
	}
	// A serial node without a routable interrupt is no use here.
	if info.UARTBase != 0 && info.UARTIRQ != 0 {
		p.UARTBase = info.UARTBase
		p.UARTIRQ = info.UARTIRQ
	}
	if mode == ModeSupervisor {
		p.EnableOffset += 0x80
		p.ThresholdOffset += 0x1000
	}
	p.ClaimOffset = p.ThresholdOffset + 4
	p.ClaimStride = p.ThresholdStride

	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeviceTree renders the profile as a flattened device tree blob, the
// inverse of FromDeviceTree.
func (p *Profile) DeviceTree() ([]byte, error) {
	return fdt.Build(fdt.NewBoardTree(fdt.BoardConfig{
		Model:      p.Name,
		NumHarts:   p.NumHarts,
		MemoryBase: p.MemoryBase,
		MemorySize: p.MemorySize,
		PLICBase:   p.Base,
		PLICSize:   p.Size,
		NumSources: p.NumSources,
		UARTBase:   p.UARTBase,
		UARTIRQ:    p.UARTIRQ,
		TimerBase:  p.TimerBase,
		TimerIRQ:   p.TimerIRQ,
	}))
}
