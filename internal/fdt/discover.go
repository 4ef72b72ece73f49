package fdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrNoPLICNode reports that a parsed device tree does not describe a
// platform-level interrupt controller.
var ErrNoPLICNode = errors.New("fdt: no PLIC node found")

// plicCompatibles are the compatible strings that identify a PLIC node.
var plicCompatibles = []string{"sifive,plic-1.0.0", "riscv,plic0"}

// Info is the hardware description Discover extracts from a blob.
//
// UARTBase and UARTIRQ are zero when the tree carries no ns16550a
// node. NumHarts is at least 1; a tree without a cpus node is treated
// as single-hart.
type Info struct {
	Base       uint64
	Size       uint64
	NumSources uint32
	Phandle    uint32
	NumHarts   int

	UARTBase uint64
	UARTIRQ  uint32
}

// Discover parses blob and extracts the PLIC description a driver
// needs: register window, wired source count and the context layout
// hints (hart count). The first node whose compatible list names a
// PLIC wins; reg values honor the #address-cells and #size-cells in
// effect at that node.
func Discover(blob []byte) (Info, error) {
	root, err := parse(blob)
	if err != nil {
		return Info{}, err
	}

	var info Info
	found := false
	var werr error

	var walk func(n *rawNode, addrCells, sizeCells int)
	walk = func(n *rawNode, addrCells, sizeCells int) {
		if werr != nil {
			return
		}
		compat := propStrings(n.props["compatible"])
		if !found && matchesAny(compat, plicCompatibles) {
			base, size, ok := regOf(n.props["reg"], addrCells, sizeCells)
			if !ok {
				werr = fmt.Errorf("fdt: plic node %q has no usable reg", n.name)
				return
			}
			ndev, ok := propU32(n.props["riscv,ndev"])
			if !ok {
				werr = fmt.Errorf("fdt: plic node %q missing riscv,ndev", n.name)
				return
			}
			info.Base = base
			info.Size = size
			info.NumSources = ndev
			info.Phandle, _ = propU32(n.props["phandle"])
			found = true
		}
		if info.UARTBase == 0 && matchesAny(compat, []string{"ns16550a"}) {
			if base, _, ok := regOf(n.props["reg"], addrCells, sizeCells); ok {
				info.UARTBase = base
				info.UARTIRQ, _ = propU32(n.props["interrupts"])
			}
		}
		if n.name == "cpus" {
			for _, child := range n.children {
				if matchesAny(propStrings(child.props["device_type"]), []string{"cpu"}) {
					info.NumHarts++
				}
			}
		}

		// Children inherit this node's cell sizes, defaulting to the
		// device-tree standard of 2 address cells and 1 size cell.
		childAddr, childSize := 2, 1
		if v, ok := propU32(n.props["#address-cells"]); ok {
			childAddr = int(v)
		}
		if v, ok := propU32(n.props["#size-cells"]); ok {
			childSize = int(v)
		}
		for _, child := range n.children {
			walk(child, childAddr, childSize)
		}
	}
	walk(root, 2, 1)

	if werr != nil {
		return Info{}, werr
	}
	if !found {
		return Info{}, ErrNoPLICNode
	}
	if info.NumHarts == 0 {
		info.NumHarts = 1
	}
	return info, nil
}

func matchesAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// propStrings decodes a NUL-separated string list property.
func propStrings(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	parts := strings.Split(strings.TrimSuffix(string(b), "\x00"), "\x00")
	return parts
}

// propU32 decodes the first cell of a property.
func propU32(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// regOf splits a reg property into its first address/size pair using
// the cell counts in effect for the node.
func regOf(b []byte, addrCells, sizeCells int) (base, size uint64, ok bool) {
	need := (addrCells + sizeCells) * 4
	if addrCells <= 0 || sizeCells < 0 || len(b) < need {
		return 0, 0, false
	}
	base = cellsValue(b[:addrCells*4])
	size = cellsValue(b[addrCells*4 : need])
	return base, size, true
}

// cellsValue folds big-endian cells into a value, keeping the low 64
// bits.
func cellsValue(b []byte) uint64 {
	var v uint64
	for i := 0; i+4 <= len(b); i += 4 {
		v = v<<32 | uint64(binary.BigEndian.Uint32(b[i:]))
	}
	return v
}
