package fdt

import "fmt"

// BoardConfig describes the hardware a generated device tree advertises.
// Zero-valued optional devices (CLINT, UART, timer) are omitted from the
// tree.
type BoardConfig struct {
	Model    string
	NumHarts int

	MemoryBase uint64
	MemorySize uint64

	PLICBase   uint64
	PLICSize   uint64
	NumSources uint32

	CLINTBase uint64

	UARTBase uint64
	UARTIRQ  uint32

	TimerBase uint64
	TimerIRQ  uint32
}

// NewBoardTree builds the device tree for a board. Each hart gets a
// cpu node with a riscv,cpu-intc child (phandle 1..NumHarts); the PLIC
// node takes phandle NumHarts+1 and every interrupt-bearing peripheral
// names it as interrupt-parent.
func NewBoardTree(cfg BoardConfig) Node {
	numHarts := cfg.NumHarts
	if numHarts <= 0 {
		numHarts = 1
	}
	plicPhandle := uint32(numHarts + 1)

	root := Node{
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"riscv-virtio"}},
			"model":          {Strings: []string{cfg.Model}},
		},
	}

	if cfg.UARTBase != 0 {
		root.Children = append(root.Children, Node{
			Name: "chosen",
			Properties: map[string]Property{
				"stdout-path": {Strings: []string{fmt.Sprintf("/soc/serial@%x", cfg.UARTBase)}},
			},
		})
	}

	cpus := Node{
		Name: "cpus",
		Properties: map[string]Property{
			"#address-cells":     {U32: []uint32{1}},
			"#size-cells":        {U32: []uint32{0}},
			"timebase-frequency": {U32: []uint32{10000000}},
		},
	}
	for i := 0; i < numHarts; i++ {
		cpus.Children = append(cpus.Children, Node{
			Name: fmt.Sprintf("cpu@%d", i),
			Properties: map[string]Property{
				"device_type": {Strings: []string{"cpu"}},
				"reg":         {U32: []uint32{uint32(i)}},
				"status":      {Strings: []string{"okay"}},
				"compatible":  {Strings: []string{"riscv"}},
				"riscv,isa":   {Strings: []string{"rv64imafdc_zicsr_zifencei"}},
				"mmu-type":    {Strings: []string{"riscv,sv48"}},
			},
			Children: []Node{{
				Name: "interrupt-controller",
				Properties: map[string]Property{
					"#interrupt-cells":     {U32: []uint32{1}},
					"interrupt-controller": {Flag: true},
					"compatible":           {Strings: []string{"riscv,cpu-intc"}},
					"phandle":              {U32: []uint32{uint32(i + 1)}},
				},
			}},
		})
	}
	root.Children = append(root.Children, cpus)

	root.Children = append(root.Children, Node{
		Name: fmt.Sprintf("memory@%x", cfg.MemoryBase),
		Properties: map[string]Property{
			"device_type": {Strings: []string{"memory"}},
			"reg":         {U64: []uint64{cfg.MemoryBase, cfg.MemorySize}},
		},
	})

	soc := Node{
		Name: "soc",
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"simple-bus"}},
			"ranges":         {Flag: true},
		},
	}

	if cfg.CLINTBase != 0 {
		// Software interrupt 3 and timer interrupt 7 per hart.
		var intExt []uint32
		for i := 0; i < numHarts; i++ {
			intExt = append(intExt, uint32(i+1), 3, uint32(i+1), 7)
		}
		soc.Children = append(soc.Children, Node{
			Name: fmt.Sprintf("clint@%x", cfg.CLINTBase),
			Properties: map[string]Property{
				"compatible":          {Strings: []string{"sifive,clint0", "riscv,clint0"}},
				"reg":                 {U64: []uint64{cfg.CLINTBase, 0x0000c000}},
				"interrupts-extended": {U32: intExt},
			},
		})
	}

	// Machine external interrupt 9 and supervisor external 11 per hart.
	var plicIntExt []uint32
	for i := 0; i < numHarts; i++ {
		plicIntExt = append(plicIntExt, uint32(i+1), 9, uint32(i+1), 11)
	}
	soc.Children = append(soc.Children, Node{
		Name: fmt.Sprintf("plic@%x", cfg.PLICBase),
		Properties: map[string]Property{
			"compatible":           {Strings: []string{"sifive,plic-1.0.0", "riscv,plic0"}},
			"#interrupt-cells":     {U32: []uint32{1}},
			"interrupt-controller": {Flag: true},
			"reg":                  {U64: []uint64{cfg.PLICBase, cfg.PLICSize}},
			"interrupts-extended":  {U32: plicIntExt},
			"riscv,ndev":           {U32: []uint32{cfg.NumSources}},
			"phandle":              {U32: []uint32{plicPhandle}},
		},
	})

	if cfg.UARTBase != 0 {
		soc.Children = append(soc.Children, Node{
			Name: fmt.Sprintf("serial@%x", cfg.UARTBase),
			Properties: map[string]Property{
				"compatible":       {Strings: []string{"ns16550a"}},
				"reg":              {U64: []uint64{cfg.UARTBase, 0x100}},
				"clock-frequency":  {U32: []uint32{3686400}},
				"interrupts":       {U32: []uint32{cfg.UARTIRQ}},
				"interrupt-parent": {U32: []uint32{plicPhandle}},
			},
		})
	}

	if cfg.TimerBase != 0 {
		soc.Children = append(soc.Children, Node{
			Name: fmt.Sprintf("timer@%x", cfg.TimerBase),
			Properties: map[string]Property{
				"compatible":       {Strings: []string{"tinyrange,plic-timer"}},
				"reg":              {U64: []uint64{cfg.TimerBase, 0x1000}},
				"interrupts":       {U32: []uint32{cfg.TimerIRQ}},
				"interrupt-parent": {U32: []uint32{plicPhandle}},
			},
		})
	}

	root.Children = append(root.Children, soc)
	return root
}
