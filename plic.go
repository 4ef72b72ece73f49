// Package plic drives the RISC-V platform-level interrupt controller:
// per-source priorities, per-hart enables, threshold filtering, and the
// claim/complete cycle. The same driver runs against real registers or
// against the included controller model, and a deterministic simulation
// harness ties driver, model, and interrupt sources together for tests
// and tooling.
package plic

import (
	"io"

	"github.com/tinyrange/plic/internal/driver"
	"github.com/tinyrange/plic/internal/fdt"
	"github.com/tinyrange/plic/internal/mmio"
	"github.com/tinyrange/plic/internal/model"
	"github.com/tinyrange/plic/internal/platform"
	"github.com/tinyrange/plic/internal/sim"
	"github.com/tinyrange/plic/internal/trace"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Controller is a configured driver bound to one controller window.
type Controller = driver.Controller

// Handler services one claimed interrupt source.
type Handler = driver.Handler

// Params carries the register layout and access plumbing a Controller
// needs. Most callers build one with Profile.DriverParams.
type Params = driver.Params

// RegisterIO is the 32-bit register access interface the driver runs
// on.
type RegisterIO = mmio.RegisterIO

// Profile describes one board's controller: where it sits, how many
// sources and harts it has, and how its register blocks are laid out.
type Profile = platform.Profile

// Mode selects which privilege level's context a profile addresses.
type Mode = platform.Mode

// DeviceModel is the register-accurate controller the simulation
// harness drives. Machine exposes one for direct inspection.
type DeviceModel = model.PLIC

// Machine is a simulated interrupt path: controller model, interrupt
// sources, and one driver per hart on a shared bus.
type Machine = sim.Machine

// MachineConfig describes a Machine to assemble.
type MachineConfig = sim.Config

// MachineSource wires a generic interrupt source into a Machine.
type MachineSource = sim.Source

// Scenario is a schedule of stimuli for a Machine, usually loaded from
// a YAML file.
type Scenario = sim.Scenario

// Event is one scheduled stimulus in a Scenario.
type Event = sim.Event

// Report summarizes a simulation run.
type Report = sim.Report

// DeviceTreeInfo is what Discover extracts from a flattened device
// tree blob.
type DeviceTreeInfo = fdt.Info

// Privilege modes for profile construction.
const (
	ModeMachine    = platform.ModeMachine
	ModeSupervisor = platform.ModeSupervisor
)

// ErrNoPLICNode reports a device tree without a recognizable
// interrupt controller node.
var ErrNoPLICNode = fdt.ErrNoPLICNode

// -----------------------------------------------------------------------------
// Driver
// -----------------------------------------------------------------------------

// New creates a Controller from explicit parameters. Callers with a
// Profile should prefer NewFromProfile.
func New(params Params) (*Controller, error) {
	return driver.New(params)
}

// NewFromProfile creates a Controller for the profile's register
// layout. hartID resolves the executing hart on every register access,
// so one Controller value serves code migrating between harts.
func NewFromProfile(prof *Profile, regs RegisterIO, hartID func() uint64) (*Controller, error) {
	return driver.New(prof.DriverParams(regs, hartID))
}

// Install publishes a process-wide Controller for TrapDispatch. It
// succeeds exactly once.
func Install(c *Controller) error {
	return driver.Install(c)
}

// Installed returns the process-wide Controller, or nil.
func Installed() *Controller {
	return driver.Installed()
}

// TrapDispatch claims and services pending interrupts through the
// installed Controller. It is the entry point for trap vectors that
// cannot carry an argument.
func TrapDispatch() {
	driver.TrapDispatch()
}

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

// QemuVirt returns the controller profile of QEMU's virt machine.
func QemuVirt(numHarts int, mode Mode) *Profile {
	return platform.QemuVirt(numHarts, mode)
}

// HiFive1 returns the controller profile of the SiFive HiFive1 board.
func HiFive1() *Profile {
	return platform.HiFive1()
}

// LoadProfile reads a board description from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	return platform.Load(path)
}

// ParseProfile parses a YAML board description.
func ParseProfile(data []byte) (*Profile, error) {
	return platform.Parse(data)
}

// FromDeviceTree builds a profile by probing a flattened device tree
// blob for the controller, serial, and cpu nodes.
func FromDeviceTree(blob []byte, mode Mode) (*Profile, error) {
	return platform.FromDeviceTree(blob, mode)
}

// Discover extracts the controller description from a flattened device
// tree blob without committing to a profile.
func Discover(blob []byte) (DeviceTreeInfo, error) {
	return fdt.Discover(blob)
}

// -----------------------------------------------------------------------------
// Simulation
// -----------------------------------------------------------------------------

// NewMachine assembles a simulated interrupt path.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	return sim.NewMachine(cfg)
}

// LoadScenario reads a stimulus schedule from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	return sim.LoadScenario(path)
}

// ParseScenario parses YAML scenario data.
func ParseScenario(data []byte) (*Scenario, error) {
	return sim.ParseScenario(data)
}

// StartTrace begins recording driver and model events to w. The
// returned closer flushes and detaches the recorder; recording is
// process-wide and free when off.
func StartTrace(w io.Writer) (io.Closer, error) {
	return trace.StartRecording(w)
}
