// Package ch341 implements the adapter.Adapter contract (C1) for the CH341A
// USB-to-SPI/I2C/MicroWire programmer boards, talking directly to the
// vendor's bulk protocol over github.com/google/gousb rather than linking
// its proprietary DLL, following the direct-USB-bypass pattern
// guiperry-HASHER's internal/driver/device package uses for its ASIC.
package ch341

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/progctl"
)

const (
	vendorID  = gousb.ID(0x1a86)
	productID = gousb.ID(0x5512)

	epBulkOut = 0x02
	epBulkIn  = 0x82

	cmdSPIStream = 0xA8
	cmdI2CStream = 0xAA
	cmdUIOStream = 0xAB

	i2cStreamSTA = 0x74
	i2cStreamSTO = 0x75
	i2cStreamOut = 0x80
	i2cStreamIn  = 0xC0
	i2cStreamMax = 0x20 // max 32 bytes per IN burst
	i2cStreamSet = 0x60 // + speed bits
	i2cStreamEnd = 0x00

	uioStreamOut = 0x80 // + D0..D5 value bits
	uioStreamDir = 0x40 // + D0..D5 direction bits (1 = constant output)
	uioStreamUS  = 0x20 // short delay marker
	uioStreamEnd = 0x20

	maxBulkPayload = 4096
	maxSPIChunk    = 32 // CH341A shifts at most 32 bytes per SPI stream packet
)

// Adapter drives one CH341A device via libusb bulk transfers.
type Adapter struct {
	mu sync.Mutex

	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
	serial string

	speed adapter.SpeedTier
}

// New returns an unopened CH341A adapter.
func New() *Adapter { return &Adapter{} }

var _ adapter.Adapter = (*Adapter)(nil)

func (a *Adapter) Enumerate(ctx context.Context) ([]string, error) {
	c := gousb.NewContext()
	defer c.Close()
	devs, err := c.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ch341 adapter: enumerate failed", err)
	}
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		out = append(out, fmt.Sprintf("bus%d/addr%d", d.Desc.Bus, d.Desc.Address))
		_ = d.Close()
	}
	return out, nil
}

// Open binds to the first CH341A found; path is not used since CH341A
// boards don't expose a stable serial number.
func (a *Adapter) Open(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return progctl.New(progctl.KindBusy, "ch341 adapter: already open")
	}
	c := gousb.NewContext()
	dev, err := c.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil {
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: open failed", err)
	}
	if dev == nil {
		c.Close()
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: no CH341A found")
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: auto-detach failed", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: set config failed", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: claim interface failed", err)
	}
	out, err := intf.OutEndpoint(epBulkOut)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: open OUT endpoint failed", err)
	}
	in, err := intf.InEndpoint(epBulkIn)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		c.Close()
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: open IN endpoint failed", err)
	}
	a.ctx, a.dev, a.cfg, a.intf, a.out, a.in = c, dev, cfg, intf, out, in
	a.serial, _ = dev.SerialNumber()
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}
	a.intf.Close()
	a.cfg.Close()
	err := a.dev.Close()
	a.ctx.Close()
	a.dev, a.cfg, a.intf, a.out, a.in, a.ctx = nil, nil, nil, nil, nil, nil
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: close failed", err)
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
		return "", progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	if a.serial != "" {
		return a.serial, nil
	}
	return "ch341a", nil
}

func (a *Adapter) SetSpeed(tier adapter.SpeedTier) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speed = tier
	return nil
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Buses:        adapter.BusSPI | adapter.BusI2C | adapter.BusGPIO,
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

// bulkWrite sends one bulk OUT packet verbatim to the CH341A's command
// endpoint. Every stream command (SPI, I2C, UIO) is framed this way.
func (a *Adapter) bulkWrite(ctx context.Context, b []byte) error {
	if a.out == nil {
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	if len(b) > maxBulkPayload {
		return progctl.New(progctl.KindInvalidArgument, "ch341 adapter: command exceeds max bulk payload")
	}
	if _, err := a.out.WriteContext(ctx, b); err != nil {
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: bulk write failed", err)
	}
	return nil
}

func (a *Adapter) bulkRead(ctx context.Context, n int) ([]byte, error) {
	if a.in == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	buf := make([]byte, n)
	got, err := a.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ch341 adapter: bulk read failed", err)
	}
	return buf[:got], nil
}

// MWInit/MWDeinit/MWEnable/.../MWEraseAll: MicroWire is not supported by the
// CH341A bulk protocol this backend speaks (flashrom's ch341a_spi never
// implemented it either; the vendor's own 93Cxx path uses a different
// firmware mode entirely). Report UnsupportedOperation rather than pretend.
func (a *Adapter) MWInit(addressBits int) error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire is not supported over the bulk SPI/I2C firmware mode")
}
func (a *Adapter) MWDeinit() error { return nil }
func (a *Adapter) MWEnable() error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
func (a *Adapter) MWDisable() error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
func (a *Adapter) MWRead(ctx context.Context, addr uint16, words int) ([]uint16, error) {
	return nil, progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
func (a *Adapter) MWWrite(ctx context.Context, addr uint16, data []uint16) error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
func (a *Adapter) MWErase(addr uint16) error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
func (a *Adapter) MWEraseAll() error {
	return progctl.New(progctl.KindUnsupportedOperation, "ch341 adapter: MicroWire unsupported")
}
