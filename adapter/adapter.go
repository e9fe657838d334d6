// Package adapter defines the polymorphic USB programmer contract (C1) that
// every protocol engine (spiengine, i2cengine, mwengine) drives, and that
// the orchestrator opens and closes. Two concrete backends implement it:
// adapter/ch341 (CH341A over gousb/libusb) and adapter/ftdi (FTDI MPSSE
// parts over periph.io/x/d2xx), matching distilled spec §9's "polymorphism
// over adapters" design note.
package adapter

import "context"

// SpeedTier is the advisory clock tier an engine may request; backends are
// free to substitute their closest supported rate.
type SpeedTier int

const (
	SpeedSlow SpeedTier = iota
	SpeedNormal
	SpeedFast
)

// Bus identifies one of the primitive transaction families an Adapter may
// support. HardwareCapabilities is built from a bitset of these.
type Bus int

const (
	BusSPI Bus = 1 << iota
	BusI2C
	BusMicroWire
	BusGPIO
)

// Capabilities describes what a given, already-open Adapter instance
// actually supports, so C6 can fail fast with UnsupportedOperation instead
// of letting a doomed transaction reach the USB link.
type Capabilities struct {
	Buses       Bus
	MaxSPIClock SpeedTier
	MinAddrBytes, MaxAddrBytes int
}

// Supports reports whether b is present in the capability bitset.
func (c Capabilities) Supports(b Bus) bool { return c.Buses&b != 0 }

// Adapter is the contract every USB programmer backend implements. All
// primitives return an error rather than panicking for bus-level failures;
// a primitive family the backend lacks returns a *progctl.Error of
// KindUnsupportedOperation instead of aborting the process.
//
// Ownership: an Adapter exclusively owns its USB handle once Open succeeds.
// Dropping an open Adapter without calling Close is a programmer error in
// the caller, but Close is always safe to call again (idempotent-on-closed
// returns nil, matching distilled spec §4.1).
type Adapter interface {
	// Enumerate lists currently attached programmers of this kind and may
	// return an empty slice. A backend may open matching devices in order to
	// list them; Enumerate does not bind this Adapter to any of them.
	Enumerate(ctx context.Context) ([]string, error)

	// Open binds the process to the device at path, or to index 0 if path
	// is empty. Open fails if a device is already open on this Adapter, if
	// none is found, or if the backend's driver is unavailable.
	Open(ctx context.Context, path string) error

	// Close releases the device. Calling Close on an adapter that is not
	// open returns nil.
	Close() error

	// IsConnected reports whether Open has succeeded and Close has not
	// since been called.
	IsConnected() bool

	// FirmwareVersion returns a backend-specific version string. Only
	// valid while connected.
	FirmwareVersion() (string, error)

	// SetSpeed is advisory; protocol engines may override it per
	// operation via the primitives below.
	SetSpeed(tier SpeedTier) error

	// Capabilities reports what this open Adapter actually supports.
	Capabilities() Capabilities

	SPI
	I2C
	MicroWire
	GPIO

	// Delay is a cancellable sleep used by busy-poll loops; it returns
	// ctx.Err() if ctx is cancelled before ms elapses.
	Delay(ctx context.Context, ms int) error
}

// SPI is the primitive SPI transaction set C2 drives.
type SPI interface {
	SPIInit() error
	SPIDeinit() error
	// SPITransfer performs one chip-select-asserted transaction: it shifts
	// out write, then clocks in readLen bytes, holding CS low throughout.
	SPITransfer(ctx context.Context, write []byte, readLen int) ([]byte, error)
}

// I2C is the primitive I²C transaction set C3 drives.
type I2C interface {
	I2CInit(khz int) error
	I2CDeinit() error
	// I2CScan returns the 7-bit addresses that ACK a zero-length probe.
	I2CScan(ctx context.Context) ([]uint8, error)
	I2CRead(ctx context.Context, dev uint8, length int) ([]byte, error)
	I2CWrite(ctx context.Context, dev uint8, data []byte) error
	I2CReadFromAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, length int) ([]byte, error)
	I2CWriteToAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, data []byte) error
}

// MicroWire is the primitive bit-serial transaction set C4 drives.
type MicroWire interface {
	MWInit(addressBits int) error
	MWDeinit() error
	MWEnable() error  // EWEN
	MWDisable() error // EWDS
	MWRead(ctx context.Context, addr uint16, words int) ([]uint16, error)
	MWWrite(ctx context.Context, addr uint16, data []uint16) error
	MWErase(addr uint16) error
	MWEraseAll() error
}

// GPIO is the primitive pin-level access every backend exposes regardless
// of which serial bus is active.
type GPIO interface {
	GPIOSet(pin int, high bool) error
	GPIOGet(pin int) (bool, error)
}
