package driver

import (
	"fmt"
	"sync/atomic"
)

// The lowest-level trap entry often cannot carry an argument, so one
// process-wide controller can be installed for TrapDispatch to find.

var installed atomic.Pointer[Controller]

// Install publishes the process-wide controller. It succeeds exactly
// once; the interrupt path is wired at startup and never rewired.
func Install(c *Controller) error {
	if c == nil {
		return fmt.Errorf("plic: install: nil controller")
	}
	if !installed.CompareAndSwap(nil, c) {
		return fmt.Errorf("plic: controller already installed")
	}
	return nil
}

// Installed returns the process-wide controller, or nil if none was
// installed.
func Installed() *Controller {
	return installed.Load()
}

// TrapDispatch is the no-argument dispatch entry for trap handlers
// that cannot pass context. An external interrupt with no installed
// controller means the platform enabled interrupts before wiring the
// driver, which is unserviceable.
func TrapDispatch() {
	c := installed.Load()
	if c == nil {
		panic("plic: dispatch with no controller installed")
	}
	c.Dispatch()
}
