// Package driver implements the software side of the RISC-V
// platform-level interrupt controller protocol: per-hart register
// addressing, enable-bit masking, priority and threshold
// configuration, and the claim/dispatch/complete cycle that services
// external interrupts exactly once.
//
// The driver holds no locks. Configuration calls run in normal
// context; Dispatch runs in trap context on whichever hart took the
// interrupt. Callers serialize read-modify-write sequences that race
// on the same enable word, and register callbacks before enabling the
// sources that use them. Misconfiguration is a panic, never an error
// value: a misrouted interrupt path is unsafe to keep running.
package driver

import (
	"fmt"

	"github.com/tinyrange/plic/internal/mmio"
)

// Handler services one interrupt source. It runs in trap context on
// whichever hart claimed the source, with the claim held until it
// returns.
type Handler func(irq uint32)

// Params describes a controller as the platform wired it: where the
// register blocks live and how they are replicated per hart.
type Params struct {
	// Base is the physical address of the controller's register block.
	Base uint64

	// NumSources is the number of wired interrupt sources; valid IDs
	// are 1..NumSources, ID 0 is the no-interrupt sentinel.
	NumSources uint32

	// MaxPriority is the largest priority value the platform supports.
	MaxPriority uint32

	// Register block offsets from Base and their per-hart strides.
	PriorityOffset  uint64
	EnableOffset    uint64
	EnableStride    uint64
	ThresholdOffset uint64
	ThresholdStride uint64
	ClaimOffset     uint64
	ClaimStride     uint64

	// HartID reads the running hart's identity. It is consulted fresh
	// on every per-hart register access and never cached, since the
	// same code path executes on different harts.
	HartID func() uint64

	// IO performs the register accesses.
	IO mmio.RegisterIO
}

type callbackSlot struct {
	fn         Handler
	registered bool
}

// Controller drives one platform-level interrupt controller. Construct
// it once at startup and keep it for the life of the process.
type Controller struct {
	params Params

	// callbacks is indexed by source ID; slot 0 stays empty for the
	// reserved sentinel.
	callbacks []callbackSlot
}

// New validates the platform description and builds a controller with
// an empty callback table.
func New(params Params) (*Controller, error) {
	if params.IO == nil {
		return nil, fmt.Errorf("plic: no register IO supplied")
	}
	if params.HartID == nil {
		return nil, fmt.Errorf("plic: no hart ID accessor supplied")
	}
	if params.NumSources == 0 {
		return nil, fmt.Errorf("plic: no interrupt sources")
	}
	if params.MaxPriority == 0 {
		return nil, fmt.Errorf("plic: max priority must be nonzero")
	}

	return &Controller{
		params:    params,
		callbacks: make([]callbackSlot, params.NumSources+1),
	}, nil
}

// NumSources returns the wired source count.
func (c *Controller) NumSources() uint32 {
	return c.params.NumSources
}

// MaxPriority returns the largest supported priority value.
func (c *Controller) MaxPriority() uint32 {
	return c.params.MaxPriority
}

// Register addressing ------------------------------------------------------

// Address arithmetic is pure: the hart ID is an input value, read from
// the hart-ID accessor immediately before each call.

func (c *Controller) priorityAddr(id uint32) uint64 {
	return c.params.Base + c.params.PriorityOffset + 4*uint64(id)
}

func (c *Controller) enableAddr(hart uint64, id uint32) uint64 {
	return c.params.Base + c.params.EnableOffset + hart*c.params.EnableStride + 4*uint64(id/32)
}

func (c *Controller) thresholdAddr(hart uint64) uint64 {
	return c.params.Base + c.params.ThresholdOffset + hart*c.params.ThresholdStride
}

func (c *Controller) claimAddr(hart uint64) uint64 {
	return c.params.Base + c.params.ClaimOffset + hart*c.params.ClaimStride
}

// checkSource panics unless id names a wired source. ID 0 is the
// no-interrupt sentinel and is never configurable.
func (c *Controller) checkSource(op string, id uint32) {
	if id == 0 || id > c.params.NumSources {
		panic(fmt.Sprintf("plic: %s: source %d outside [1, %d]", op, id, c.params.NumSources))
	}
}

// Configuration -------------------------------------------------------------

// Enable sets the calling hart's enable bit for a source. The
// read-modify-write touches only bit id%32 of enable word id/32;
// every other bit in the word is preserved.
func (c *Controller) Enable(id uint32) {
	c.checkSource("enable", id)

	addr := c.enableAddr(c.params.HartID(), id)
	c.params.IO.Write32(addr, c.params.IO.Read32(addr)|1<<(id%32))
}

// Disable clears the calling hart's enable bit for a source.
func (c *Controller) Disable(id uint32) {
	c.checkSource("disable", id)

	addr := c.enableAddr(c.params.HartID(), id)
	c.params.IO.Write32(addr, c.params.IO.Read32(addr)&^(1<<(id%32)))
}

// SetPriority assigns a source's priority. Priority 0 means the source
// never interrupts regardless of its enable bit.
func (c *Controller) SetPriority(id uint32, priority uint32) {
	c.checkSource("set priority", id)
	if priority > c.params.MaxPriority {
		panic(fmt.Sprintf("plic: set priority: value %d above platform maximum %d", priority, c.params.MaxPriority))
	}

	c.params.IO.Write32(c.priorityAddr(id), priority)
}

// SetThreshold sets the calling hart's priority floor: sources with
// priority at or below it never claim on this hart.
func (c *Controller) SetThreshold(threshold uint32) {
	if threshold > c.params.MaxPriority {
		panic(fmt.Sprintf("plic: set threshold: value %d above platform maximum %d", threshold, c.params.MaxPriority))
	}

	c.params.IO.Write32(c.thresholdAddr(c.params.HartID()), threshold)
}

// SetCallback stores the handler dispatched when a source is claimed.
// Exactly one handler per source; a second registration replaces the
// first. Registration has no hardware side effect: enabling the source
// is a separate step.
func (c *Controller) SetCallback(id uint32, fn Handler) {
	c.checkSource("set callback", id)
	if fn == nil {
		panic(fmt.Sprintf("plic: set callback: nil handler for source %d", id))
	}

	c.callbacks[id] = callbackSlot{fn: fn, registered: true}
}

// Init drives every source to its inert state: disabled and priority
// 0, with the calling hart's threshold at 0 so any nonzero priority
// can interrupt once re-enabled. Safe to run again at any time, but it
// drops claims in flight on this hart, so never run it concurrently
// with active interrupt service.
func (c *Controller) Init() {
	for id := uint32(1); id <= c.params.NumSources; id++ {
		c.Disable(id)
		c.SetPriority(id, 0)
	}

	c.SetThreshold(0)
}

// Claim/complete ------------------------------------------------------------

// claim reads the calling hart's claim register: the controller hands
// over the highest-priority pending source that is enabled and above
// threshold for this hart, atomically marking it in service, or 0 if
// nothing qualifies.
func (c *Controller) claim() uint32 {
	return c.params.IO.Read32(c.claimAddr(c.params.HartID()))
}

// complete writes a claimed source back to the claim register,
// retiring the in-service state and re-arming the source.
func (c *Controller) complete(id uint32) {
	c.params.IO.Write32(c.claimAddr(c.params.HartID()), id)
}

// Dispatch runs one claim/dispatch/complete cycle on the calling hart.
// The trap layer invokes it on an external interrupt; a claim of 0
// (nothing pending, the interrupt raced away) returns quietly. A
// claimed source with no registered handler is a configuration defect
// and panics: masking a live interrupt we cannot service would either
// lose it or storm.
//
// Claim strictly precedes the handler, which strictly precedes
// complete, with no second claim in between on this hart. That
// ordering is what makes re-claims of a live source and double service
// impossible.
func (c *Controller) Dispatch() {
	id := c.claim()
	if id == 0 {
		return
	}
	if id > c.params.NumSources {
		panic(fmt.Sprintf("plic: claimed source %d outside [1, %d]", id, c.params.NumSources))
	}

	slot := c.callbacks[id]
	if !slot.registered {
		panic(fmt.Sprintf("plic: no handler registered for claimed source %d", id))
	}
	slot.fn(id)

	c.complete(id)
}
