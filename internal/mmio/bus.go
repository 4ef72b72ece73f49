package mmio

import "fmt"

// Device represents a memory-mapped device
type Device interface {
	// Read reads from the device at the given offset
	Read(offset uint64, size int) (uint64, error)
	// Write writes to the device at the given offset
	Write(offset uint64, size int, value uint64) error
	// Size returns the size of the device's address space
	Size() uint64
}

// RegisterIO is the register access contract used by drivers. Register
// reads and writes have no error path: an access outside a mapped
// register block is a platform-integration bug, not a runtime
// condition, and implementations fault loudly instead of returning.
type RegisterIO interface {
	Read32(addr uint64) uint32
	Write32(addr uint64, value uint32)
}

// Mapping maps a device to an address range
type Mapping struct {
	Base   uint64
	Size   uint64
	Device Device
}

// Bus routes register accesses to memory-mapped devices
type Bus struct {
	Devices []Mapping
}

// NewBus creates an empty register bus
func NewBus() *Bus {
	return &Bus{}
}

// AddDevice adds a device mapping to the bus
func (bus *Bus) AddDevice(base uint64, dev Device) {
	bus.Devices = append(bus.Devices, Mapping{
		Base:   base,
		Size:   dev.Size(),
		Device: dev,
	})
}

// findDevice finds a device at the given address
func (bus *Bus) findDevice(addr uint64) (Device, uint64, error) {
	for _, mapping := range bus.Devices {
		if addr >= mapping.Base && addr < mapping.Base+mapping.Size {
			return mapping.Device, addr - mapping.Base, nil
		}
	}

	return nil, 0, fmt.Errorf("mmio: no device at address 0x%x", addr)
}

// Read reads from the bus
func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

// Write writes to the bus
func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

// Read8 reads a byte from the bus
func (bus *Bus) Read8(addr uint64) (uint8, error) {
	val, err := bus.Read(addr, 1)
	return uint8(val), err
}

// Read32 reads a word from the bus
func (bus *Bus) Read32(addr uint64) (uint32, error) {
	val, err := bus.Read(addr, 4)
	return uint32(val), err
}

// Write8 writes a byte to the bus
func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}

// Write32 writes a word to the bus
func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}

// BusIO adapts a Bus to the RegisterIO contract. Bus errors become
// panics: a driver asking for an unmapped register means the platform
// description and the device mappings disagree.
type BusIO struct {
	Bus *Bus
}

var _ RegisterIO = (*BusIO)(nil)

// Read32 implements RegisterIO.
func (io *BusIO) Read32(addr uint64) uint32 {
	val, err := io.Bus.Read32(addr)
	if err != nil {
		panic(fmt.Sprintf("mmio: register read 0x%x: %v", addr, err))
	}
	return val
}

// Write32 implements RegisterIO.
func (io *BusIO) Write32(addr uint64, value uint32) {
	if err := io.Bus.Write32(addr, value); err != nil {
		panic(fmt.Sprintf("mmio: register write 0x%x: %v", addr, err))
	}
}
