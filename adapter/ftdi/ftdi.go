// Package ftdi adapts the FT232H/FT2232H MPSSE backend (github.com/flashprog/flashprog/ftdi,
// itself grounded on periph.io/x/d2xx) to the adapter.Adapter contract (C1).
// SPI rides the MPSSE engine's native port; I2C rides its native bus; GPIO
// and MicroWire ride the raw D-bus (DBus/DBusRead) the MPSSE engine exposes
// for bit-banging, since periph.io/x/d2xx has no MicroWire primitive of its
// own.
package ftdi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/ftdi"
	"github.com/flashprog/flashprog/progctl"
)

// D-bus pin assignment for MicroWire bit-banging. D0-D3 are reserved for
// the MPSSE SPI port, D0-D2 for the MPSSE I2C bus; MicroWire never runs
// concurrently with either, so reusing D0/D1/D2/D3 would be safe too, but
// keeping it on the spare D4-D7 nibble avoids any ambiguity about which
// mode last configured the bus.
const (
	mwPinCS = 4
	mwPinSK = 5
	mwPinDI = 6
	mwPinDO = 7
)

// Adapter drives one FTDI MPSSE device.
type Adapter struct {
	mu sync.Mutex

	dev  *ftdi.FT232H
	name string
	freq physic.Frequency

	spiPort spi.PortCloser
	spiConn spi.Conn

	i2cBus i2c.BusCloser

	mwAddrBits int
	mwEnabled  bool

	dbusDir byte
	dbusVal byte
}

// New returns an unopened FTDI adapter.
func New() *Adapter {
	return &Adapter{freq: physic.MegaHertz}
}

var _ adapter.Adapter = (*Adapter)(nil)

func (a *Adapter) Enumerate(ctx context.Context) ([]string, error) {
	if _, err := driverreg.Init(); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ftdi adapter: driver init failed", err)
	}
	devs := ftdi.All()
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.String())
	}
	return out, nil
}

// Open binds to the device at index path (empty means index 0).
func (a *Adapter) Open(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return progctl.New(progctl.KindBusy, "ftdi adapter: already open")
	}
	if _, err := driverreg.Init(); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: driver init failed", err)
	}
	devs := ftdi.All()
	idx := 0
	if path != "" {
		if _, err := fmt.Sscanf(path, "%d", &idx); err != nil {
			idx = -1
			for i, d := range devs {
				if d.String() == path {
					idx = i
					break
				}
			}
			if idx < 0 {
				return progctl.New(progctl.KindNotConnected, "ftdi adapter: no device matching "+path)
			}
		}
	}
	if idx < 0 || idx >= len(devs) {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: device index out of range")
	}
	f, ok := devs[idx].(*ftdi.FT232H)
	if !ok {
		return progctl.New(progctl.KindUnsupportedOperation, "ftdi adapter: device is not an FT232H/FT2232H")
	}
	a.dev = f
	a.name = f.String()
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}
	if a.spiPort != nil {
		_ = a.spiPort.Close()
		a.spiPort, a.spiConn = nil, nil
	}
	if a.i2cBus != nil {
		_ = a.i2cBus.Close()
		a.i2cBus = nil
	}
	err := a.dev.Halt()
	a.dev = nil
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: halt failed", err)
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dev != nil
}

func (a *Adapter) FirmwareVersion() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return "", progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	return a.name, nil
}

func (a *Adapter) SetSpeed(tier adapter.SpeedTier) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch tier {
	case adapter.SpeedSlow:
		a.freq = 400 * physic.KiloHertz
	case adapter.SpeedFast:
		a.freq = 30 * physic.MegaHertz
	default:
		a.freq = physic.MegaHertz
	}
	return nil
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Buses:        adapter.BusSPI | adapter.BusI2C | adapter.BusMicroWire | adapter.BusGPIO,
		MaxSPIClock:  adapter.SpeedFast,
		MinAddrBytes: 1,
		MaxAddrBytes: 4,
	}
}

func (a *Adapter) Delay(ctx context.Context, ms int) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// --- SPI ---

func (a *Adapter) SPIInit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	port, err := a.dev.SPI()
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: SPI() failed", err)
	}
	conn, err := port.Connect(a.freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: SPI Connect failed", err)
	}
	a.spiPort, a.spiConn = port, conn
	return nil
}

func (a *Adapter) SPIDeinit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spiPort == nil {
		return nil
	}
	err := a.spiPort.Close()
	a.spiPort, a.spiConn = nil, nil
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: SPI close failed", err)
	}
	return nil
}

// SPITransfer shifts write out, then clocks in readLen bytes while holding
// chip select low throughout, matching a single conn.Tx() call.
func (a *Adapter) SPITransfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	a.mu.Lock()
	conn := a.spiConn
	a.mu.Unlock()
	if conn == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ftdi adapter: SPIInit not called")
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	w := make([]byte, len(write)+readLen)
	copy(w, write)
	r := make([]byte, len(w))
	if err := conn.Tx(w, r); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ftdi adapter: SPI Tx failed", err)
	}
	return r[len(write):], nil
}

// --- I2C ---

func (a *Adapter) I2CInit(khz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	bus, err := a.dev.I2C(gpio.PullUp)
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C() failed", err)
	}
	if khz > 0 {
		if err := bus.(interface{ SetSpeed(physic.Frequency) error }).SetSpeed(physic.Frequency(khz) * physic.KiloHertz); err != nil {
			_ = bus.Close()
			return progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C SetSpeed failed", err)
		}
	}
	a.i2cBus = bus
	return nil
}

func (a *Adapter) I2CDeinit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.i2cBus == nil {
		return nil
	}
	err := a.i2cBus.Close()
	a.i2cBus = nil
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C close failed", err)
	}
	return nil
}

func (a *Adapter) I2CScan(ctx context.Context) ([]uint8, error) {
	a.mu.Lock()
	bus := a.i2cBus
	a.mu.Unlock()
	if bus == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ftdi adapter: I2CInit not called")
	}
	var found []uint8
	for dev := uint16(0x03); dev <= 0x77; dev++ {
		if err := ctxErr(ctx); err != nil {
			return found, err
		}
		if err := bus.Tx(dev, nil, nil); err == nil {
			found = append(found, uint8(dev))
		}
	}
	return found, nil
}

func (a *Adapter) I2CRead(ctx context.Context, dev uint8, length int) ([]byte, error) {
	a.mu.Lock()
	bus := a.i2cBus
	a.mu.Unlock()
	if bus == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ftdi adapter: I2CInit not called")
	}
	buf := make([]byte, length)
	if err := bus.Tx(uint16(dev), nil, buf); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C read failed", err)
	}
	return buf, nil
}

func (a *Adapter) I2CWrite(ctx context.Context, dev uint8, data []byte) error {
	a.mu.Lock()
	bus := a.i2cBus
	a.mu.Unlock()
	if bus == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: I2CInit not called")
	}
	if err := bus.Tx(uint16(dev), data, nil); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C write failed", err)
	}
	return nil
}

func (a *Adapter) I2CReadFromAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, length int) ([]byte, error) {
	a.mu.Lock()
	bus := a.i2cBus
	a.mu.Unlock()
	if bus == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ftdi adapter: I2CInit not called")
	}
	addr, err := adapter.MarshalAddress(memAddr, addrBytes)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := bus.Tx(uint16(dev), addr, buf); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C read-from-address failed", err)
	}
	return buf, nil
}

func (a *Adapter) I2CWriteToAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, data []byte) error {
	a.mu.Lock()
	bus := a.i2cBus
	a.mu.Unlock()
	if bus == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: I2CInit not called")
	}
	addr, err := adapter.MarshalAddress(memAddr, addrBytes)
	if err != nil {
		return err
	}
	w := append(addr, data...)
	if err := bus.Tx(uint16(dev), w, nil); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: I2C write-to-address failed", err)
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return progctl.Wrap(progctl.KindCancelled, "ftdi adapter: operation cancelled", ctx.Err())
	default:
		return nil
	}
}
