// Package faketest provides an in-memory Adapter used by the engine and
// orchestrator test suites, grounded on periph-host/ftdi/driver_test.go's
// pattern of faking the lowest layer (there, d2xxtest.Fake stands in for a
// real D2XX handle; here, Adapter stands in for a real USB programmer).
package faketest

import (
	"context"
	"sync"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/progctl"
)

// SPI NOR opcodes the fake's SPITransfer interprets. These mirror the
// defaults distilled spec §3/§4.2 describes for a generic SPI NOR part.
const (
	opRDID  = 0x9F
	opREAD  = 0x03
	opFREAD = 0x0B
	opPP    = 0x02
	opSE    = 0x20
	opBE    = 0xD8
	opCE    = 0x60
	opRDSR  = 0x05
	opWREN  = 0x06
	opWRDI  = 0x04
)

// Adapter simulates one SPI NOR part plus an I²C EEPROM image plus a
// MicroWire EEPROM image, all addressable independently so one fake can
// back whichever engine a test targets. On the SPI model, erase sets bytes
// to 0xFF and page program ANDs bytes in place, modeling NOR
// erase-before-write semantics, so testable property 1 (round-trip against
// a simulated adapter that models paging and erase-before-write) can be
// exercised directly. I²C and MicroWire writes replace the stored bytes or
// words, as EEPROM writes do.
type Adapter struct {
	mu sync.Mutex

	open bool

	// SPI NOR model.
	SPIMem       []byte
	PageSize     int
	SectorSize   int
	AddressBytes int
	JEDEC        [3]byte
	wel          bool

	// I²C EEPROM model, keyed by 7-bit device address.
	I2CMem map[uint8][]byte

	// MicroWire EEPROM model.
	MWMem       []uint16
	mwAddrBits  int
	mwErase     bool

	caps adapter.Capabilities

	// Devices is what Enumerate returns.
	Devices []string
}

// New returns a ready-to-Open fake sized for a 4MiB/256B-page/4KiB-sector
// SPI part by default; callers mutate the exported fields (SPIMem size,
// JEDEC, I2CMem, MWMem) before Open to model a different chip.
func New() *Adapter {
	a := &Adapter{
		SPIMem:       make([]byte, 4*1024*1024),
		PageSize:     256,
		SectorSize:   4096,
		AddressBytes: 3,
		JEDEC:        [3]byte{0xEF, 0x40, 0x16},
		I2CMem:       map[uint8][]byte{0x50: make([]byte, 256)},
		MWMem:        make([]uint16, 256),
		mwAddrBits:   8,
		Devices:      []string{"fake0"},
		caps: adapter.Capabilities{
			Buses:        adapter.BusSPI | adapter.BusI2C | adapter.BusMicroWire | adapter.BusGPIO,
			MaxSPIClock:  adapter.SpeedFast,
			MinAddrBytes: 1,
			MaxAddrBytes: 4,
		},
	}
	for i := range a.SPIMem {
		a.SPIMem[i] = 0xFF
	}
	for k := range a.I2CMem {
		for i := range a.I2CMem[k] {
			a.I2CMem[k][i] = 0xFF
		}
	}
	for i := range a.MWMem {
		a.MWMem[i] = 0xFFFF
	}
	return a
}

func (a *Adapter) Enumerate(ctx context.Context) ([]string, error) {
	return a.Devices, nil
}

func (a *Adapter) Open(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return progctl.New(progctl.KindBusy, "fake: already open")
	}
	a.open = true
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

func (a *Adapter) FirmwareVersion() (string, error) { return "fake-1.0", nil }

func (a *Adapter) SetSpeed(adapter.SpeedTier) error { return nil }

func (a *Adapter) Capabilities() adapter.Capabilities { return a.caps }

func (a *Adapter) Delay(ctx context.Context, ms int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (a *Adapter) GPIOSet(pin int, high bool) error { return nil }

// GPIOGet always reports ready/high: every MicroWire write/erase the fake
// performs completes synchronously, so the DO-ready line is never observed
// low by a caller.
func (a *Adapter) GPIOGet(pin int) (bool, error) { return true, nil }

var _ adapter.Adapter = (*Adapter)(nil)
