package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Window is a RegisterIO backed by a mapping of physical address
// space, for driving a real controller from userspace through
// /dev/mem. Accesses are 32-bit atomics on the mapping so reads and
// writes hit the registers whole, never torn or combined.
type Window struct {
	base uint64
	size uint64
	mem  []byte
	off  uint64 // page-alignment slack at the start of mem
	file *os.File
}

var _ RegisterIO = (*Window)(nil)

// OpenWindow maps size bytes of physical address space starting at
// base. The caller needs read/write access to /dev/mem, which on most
// systems means root and a kernel without STRICT_DEVMEM.
func OpenWindow(base, size uint64) (*Window, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open /dev/mem: %w", err)
	}

	pageSize := uint64(os.Getpagesize())
	alignedBase := base &^ (pageSize - 1)
	slack := base - alignedBase

	mem, err := unix.Mmap(
		int(f.Fd()),
		int64(alignedBase),
		int(size+slack),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: map 0x%x+0x%x: %w", base, size, err)
	}

	return &Window{
		base: base,
		size: size,
		mem:  mem,
		off:  slack,
		file: f,
	}, nil
}

// Close unmaps the window.
func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("mmio: close window: %w", err)
	}
	return nil
}

func (w *Window) register(addr uint64) *uint32 {
	if addr < w.base || addr+4 > w.base+w.size {
		panic(fmt.Sprintf("mmio: register 0x%x outside window 0x%x+0x%x", addr, w.base, w.size))
	}
	if addr%4 != 0 {
		panic(fmt.Sprintf("mmio: misaligned register access 0x%x", addr))
	}
	return (*uint32)(unsafe.Pointer(&w.mem[w.off+(addr-w.base)]))
}

// Read32 implements RegisterIO.
func (w *Window) Read32(addr uint64) uint32 {
	return atomic.LoadUint32(w.register(addr))
}

// Write32 implements RegisterIO.
func (w *Window) Write32(addr uint64, value uint32) {
	atomic.StoreUint32(w.register(addr), value)
}
