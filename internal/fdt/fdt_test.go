package fdt

import (
	"errors"
	"testing"
)

func testBoard() BoardConfig {
	return BoardConfig{
		Model:      "tinyrange,plic-virt",
		NumHarts:   2,
		MemoryBase: 0x8000_0000,
		MemorySize: 128 << 20,
		PLICBase:   0x0c00_0000,
		PLICSize:   0x0400_0000,
		NumSources: 127,
		CLINTBase:  0x0200_0000,
		UARTBase:   0x1000_0000,
		UARTIRQ:    10,
		TimerBase:  0x1001_0000,
		TimerIRQ:   11,
	}
}

func TestBoardTreeDiscoverRoundTrip(t *testing.T) {
	cfg := testBoard()
	blob, err := Build(NewBoardTree(cfg))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	info, err := Discover(blob)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if info.Base != cfg.PLICBase {
		t.Errorf("Base = 0x%x, want 0x%x", info.Base, cfg.PLICBase)
	}
	if info.Size != cfg.PLICSize {
		t.Errorf("Size = 0x%x, want 0x%x", info.Size, cfg.PLICSize)
	}
	if info.NumSources != cfg.NumSources {
		t.Errorf("NumSources = %d, want %d", info.NumSources, cfg.NumSources)
	}
	if info.NumHarts != cfg.NumHarts {
		t.Errorf("NumHarts = %d, want %d", info.NumHarts, cfg.NumHarts)
	}
	if want := uint32(cfg.NumHarts + 1); info.Phandle != want {
		t.Errorf("Phandle = %d, want %d", info.Phandle, want)
	}
	if info.UARTBase != cfg.UARTBase {
		t.Errorf("UARTBase = 0x%x, want 0x%x", info.UARTBase, cfg.UARTBase)
	}
	if info.UARTIRQ != cfg.UARTIRQ {
		t.Errorf("UARTIRQ = %d, want %d", info.UARTIRQ, cfg.UARTIRQ)
	}
}

func TestBoardTreeDefaultsToOneHart(t *testing.T) {
	cfg := testBoard()
	cfg.NumHarts = 0
	blob, err := Build(NewBoardTree(cfg))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	info, err := Discover(blob)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if info.NumHarts != 1 {
		t.Errorf("NumHarts = %d, want 1", info.NumHarts)
	}
}

func TestDiscoverHonorsCellSizes(t *testing.T) {
	// A 32-bit board: one address cell and one size cell.
	root := Node{
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{1}},
			"#size-cells":    {U32: []uint32{1}},
		},
		Children: []Node{{
			Name: "interrupt-controller@c000000",
			Properties: map[string]Property{
				"compatible": {Strings: []string{"riscv,plic0"}},
				"reg":        {U32: []uint32{0x0c000000, 0x00400000}},
				"riscv,ndev": {U32: []uint32{52}},
			},
		}},
	}
	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	info, err := Discover(blob)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if info.Base != 0x0c000000 {
		t.Errorf("Base = 0x%x, want 0xc000000", info.Base)
	}
	if info.Size != 0x00400000 {
		t.Errorf("Size = 0x%x, want 0x400000", info.Size)
	}
	if info.NumSources != 52 {
		t.Errorf("NumSources = %d, want 52", info.NumSources)
	}
	if info.NumHarts != 1 {
		t.Errorf("NumHarts = %d, want 1", info.NumHarts)
	}
}

func TestDiscoverWithoutPLIC(t *testing.T) {
	root := Node{
		Children: []Node{{
			Name: "memory@80000000",
			Properties: map[string]Property{
				"device_type": {Strings: []string{"memory"}},
				"reg":         {U64: []uint64{0x8000_0000, 64 << 20}},
			},
		}},
	}
	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := Discover(blob); !errors.Is(err, ErrNoPLICNode) {
		t.Fatalf("Discover error = %v, want ErrNoPLICNode", err)
	}
}

func TestDiscoverRejectsGarbage(t *testing.T) {
	if _, err := Discover([]byte("this is definitely not a flattened device tree blob")); err == nil {
		t.Fatal("Discover accepted a blob with a bad magic")
	}
	if _, err := Discover([]byte{0xd0, 0x0d}); err == nil {
		t.Fatal("Discover accepted a truncated blob")
	}
}

func TestDiscoverPLICMissingNdev(t *testing.T) {
	root := Node{
		Children: []Node{{
			Name: "plic@c000000",
			Properties: map[string]Property{
				"compatible": {Strings: []string{"sifive,plic-1.0.0"}},
				"reg":        {U64: []uint64{0x0c000000, 0x04000000}},
			},
		}},
	}
	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := Discover(blob); err == nil {
		t.Fatal("Discover accepted a PLIC node without riscv,ndev")
	}
}

func TestBuildRejectsBadProperties(t *testing.T) {
	empty := Node{Properties: map[string]Property{"reg": {}}}
	if _, err := Build(empty); err == nil {
		t.Fatal("Build accepted a property with no values")
	}

	conflicting := Node{Properties: map[string]Property{
		"reg": {U32: []uint32{1}, Strings: []string{"x"}},
	}}
	if _, err := Build(conflicting); err == nil {
		t.Fatal("Build accepted a property with two value kinds")
	}
}
