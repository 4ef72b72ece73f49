//go:build ignore

// This file demonstrates every public API in the plic package.
// It is excluded from the build and serves as a reference and compile-time check.

package main

import (
	"context"
	"fmt"
	"os"

	plic "github.com/tinyrange/plic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// registers is a minimal RegisterIO for driving the controller from
// custom plumbing, such as a hypervisor's MMIO exit handler.
type registers map[uint64]uint32

func (r registers) Read32(addr uint64) uint32         { return r[addr] }
func (r registers) Write32(addr uint64, value uint32) { r[addr] = value }

func run() error {
	ctx := context.Background()

	// Board profiles: built in, from YAML, or probed from a device
	// tree blob.
	prof := plic.QemuVirt(2, plic.ModeSupervisor)

	if _, err := plic.LoadProfile("board.yaml"); err != nil {
		fmt.Println("no board.yaml:", err)
	}
	if _, err := plic.ParseProfile([]byte("base: 0x0c000000\nnum_sources: 64\n")); err != nil {
		return err
	}

	blob, err := prof.DeviceTree()
	if err != nil {
		return err
	}
	info, err := plic.Discover(blob)
	if err != nil {
		return err
	}
	fmt.Printf("controller at 0x%x with %d sources\n", info.Base, info.NumSources)

	if _, err := plic.FromDeviceTree(blob, plic.ModeSupervisor); err != nil {
		return err
	}

	// The driver itself: bind it to any RegisterIO. On linux,
	// plic.Attach maps a real register window from /dev/mem instead.
	ctrl, err := plic.NewFromProfile(prof, registers{}, func() uint64 { return 0 })
	if err != nil {
		return err
	}
	ctrl.Init()
	ctrl.SetPriority(5, 3)
	ctrl.SetCallback(5, func(irq uint32) { fmt.Println("serviced", irq) })
	ctrl.Enable(5)
	ctrl.SetThreshold(0)
	ctrl.Dispatch()

	// A process-wide controller for trap vectors that cannot carry an
	// argument.
	if err := plic.Install(ctrl); err != nil {
		return err
	}
	if plic.Installed() != nil {
		plic.TrapDispatch()
	}

	// Event tracing is process-wide; everything the driver and the
	// simulated controller do lands in the file.
	tf, err := os.Create("events.trace")
	if err != nil {
		return err
	}
	rec, err := plic.StartTrace(tf)
	if err != nil {
		return err
	}
	defer rec.Close()

	// The simulation harness: a full interrupt path in software.
	machine, err := plic.NewMachine(plic.MachineConfig{
		Profile: prof,
		Console: os.Stdout,
		Sources: []plic.MachineSource{
			{IRQ: 5, Priority: 3},
			{IRQ: 6, Priority: 1, Harts: []uint64{1}},
		},
		Thresholds: map[uint64]uint32{1: 2},
	})
	if err != nil {
		return err
	}

	scenario, err := plic.ParseScenario([]byte(`
name: demo
events:
  - at: 0
    uart: "hello"
  - at: 1
    pulse: 5
  - at: 2
    timer: 3
`))
	if err != nil {
		return err
	}
	if _, err := plic.LoadScenario("scenario.yaml"); err != nil {
		fmt.Println("no scenario.yaml:", err)
	}

	report, err := machine.Run(ctx, scenario.Steps, scenario.Events)
	if err != nil {
		return err
	}
	fmt.Printf("%d dispatches, received %q\n", report.TotalDispatches(), report.Received)
	fmt.Printf("claims=%d spurious=%d\n", report.Stats.Claims, report.Stats.SpuriousClaims)

	// The device model is directly inspectable.
	fmt.Println("pending(5):", machine.PLIC.Pending(5))

	return nil
}
