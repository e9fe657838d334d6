package ftdi

import (
	"context"

	"github.com/flashprog/flashprog/progctl"
)

// MicroWire is bit-banged directly over the D-bus since periph.io/x/d2xx has
// no native bit-serial primitive: CS on mwPinCS, clock on mwPinSK, host-to-
// chip data on mwPinDI, chip-to-host data on mwPinDO. Shifted MSB-first, one
// bit per SK rising edge, matching the 93Cxx family's wire protocol.
const (
	mwOpREAD  = 0x2
	mwOpWRITE = 0x1
	mwOpERASE = 0x3
	mwOpEWEN  = 0x0 // + address = 11xxxxxx
	mwOpEWDS  = 0x0 // + address = 00xxxxxx
	mwOpERAL  = 0x0 // + address = 10xxxxxx
	mwOpWRAL  = 0x0 // + address = 01xxxxxx
)

func (a *Adapter) MWInit(addressBits int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	a.mwAddrBits = addressBits
	a.dbusDir = (1 << mwPinCS) | (1 << mwPinSK) | (1 << mwPinDI)
	a.dbusVal = 0
	if err := a.dev.DBus(a.dbusDir, a.dbusVal); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: DBus init failed", err)
	}
	return nil
}

func (a *Adapter) MWDeinit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mwAddrBits = 0
	return nil
}

func (a *Adapter) MWEnable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mwShiftLocked(true, mwOpEWEN, 2, uint16(0x3)<<(a.mwAddrBits-2), a.mwAddrBits); err != nil {
		return err
	}
	a.mwEnabled = true
	return a.mwDeselectLocked()
}

func (a *Adapter) MWDisable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mwShiftLocked(true, mwOpEWDS, 2, 0, a.mwAddrBits); err != nil {
		return err
	}
	a.mwEnabled = false
	return a.mwDeselectLocked()
}

func (a *Adapter) MWRead(ctx context.Context, addr uint16, words int) ([]uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint16, words)
	for i := 0; i < words; i++ {
		if err := ctxErr(ctx); err != nil {
			return out[:i], err
		}
		if err := a.mwShiftLocked(true, mwOpREAD, 2, addr+uint16(i), a.mwAddrBits); err != nil {
			return out[:i], err
		}
		w, err := a.mwReadBitsLocked(16)
		if err != nil {
			return out[:i], err
		}
		if err := a.mwDeselectLocked(); err != nil {
			return out[:i], err
		}
		out[i] = w
	}
	return out, nil
}

func (a *Adapter) MWWrite(ctx context.Context, addr uint16, data []uint16) error {
	if !a.mwIsEnabled() {
		return progctl.New(progctl.KindProtocolError, "ftdi adapter: MicroWire write-enable not asserted")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, w := range data {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if err := a.mwShiftLocked(true, mwOpWRITE, 2, addr+uint16(i), a.mwAddrBits); err != nil {
			return err
		}
		if err := a.mwWriteBitsLocked(uint32(w), 16); err != nil {
			return err
		}
		if err := a.mwDeselectLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) MWErase(addr uint16) error {
	if !a.mwIsEnabled() {
		return progctl.New(progctl.KindProtocolError, "ftdi adapter: MicroWire write-enable not asserted")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mwShiftLocked(true, mwOpERASE, 2, addr, a.mwAddrBits); err != nil {
		return err
	}
	return a.mwDeselectLocked()
}

func (a *Adapter) MWEraseAll() error {
	if !a.mwIsEnabled() {
		return progctl.New(progctl.KindProtocolError, "ftdi adapter: MicroWire write-enable not asserted")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mwShiftLocked(true, mwOpERAL, 2, uint16(0x2)<<(a.mwAddrBits-2), a.mwAddrBits); err != nil {
		return err
	}
	return a.mwDeselectLocked()
}

func (a *Adapter) mwIsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mwEnabled
}

// mwShiftLocked sends the start bit, the 2-bit opcode, then addrBits of
// addr, all MSB-first. Caller holds a.mu.
func (a *Adapter) mwShiftLocked(start bool, opcode uint32, opcodeBits int, addr uint16, addrBits int) error {
	if err := a.mwWriteBitsLocked(1, 1); err != nil {
		return err
	}
	if err := a.mwWriteBitsLocked(opcode, opcodeBits); err != nil {
		return err
	}
	return a.mwWriteBitsLocked(uint32(addr), addrBits)
}

func (a *Adapter) mwWriteBitsLocked(bits uint32, n int) error {
	for i := n - 1; i >= 0; i-- {
		bit := (bits>>uint(i))&1 != 0
		if _, err := a.mwClockLocked(bit); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) mwReadBitsLocked(n int) (uint16, error) {
	var v uint16
	for i := 0; i < n; i++ {
		bit, err := a.mwClockLocked(false)
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v, nil
}

// mwClockLocked asserts CS, drives DI to bit, pulses SK, and samples DO on
// the rising edge, returning what DO read. Caller holds a.mu.
func (a *Adapter) mwClockLocked(bit bool) (bool, error) {
	val := byte(1 << mwPinCS)
	if bit {
		val |= 1 << mwPinDI
	}
	if err := a.dev.DBus(a.dbusDir, val); err != nil {
		return false, progctl.Wrap(progctl.KindIO, "ftdi adapter: MicroWire DBus write failed", err)
	}
	val |= 1 << mwPinSK
	if err := a.dev.DBus(a.dbusDir, val); err != nil {
		return false, progctl.Wrap(progctl.KindIO, "ftdi adapter: MicroWire DBus write failed", err)
	}
	r, err := a.dev.DBusRead()
	if err != nil {
		return false, progctl.Wrap(progctl.KindIO, "ftdi adapter: MicroWire DBus read failed", err)
	}
	val &^= 1 << mwPinSK
	if err := a.dev.DBus(a.dbusDir, val); err != nil {
		return false, progctl.Wrap(progctl.KindIO, "ftdi adapter: MicroWire DBus write failed", err)
	}
	a.dbusVal = val
	return r&(1<<mwPinDO) != 0, nil
}

func (a *Adapter) mwDeselectLocked() error {
	if err := a.dev.DBus(a.dbusDir, 0); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: MicroWire deselect failed", err)
	}
	a.dbusVal = 0
	return nil
}

// --- GPIO ---

func (a *Adapter) GPIOSet(pin int, high bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	if pin < 0 || pin > 7 {
		return progctl.New(progctl.KindInvalidArgument, "ftdi adapter: D-bus pin must be 0..7")
	}
	a.dbusDir |= 1 << uint(pin)
	if high {
		a.dbusVal |= 1 << uint(pin)
	} else {
		a.dbusVal &^= 1 << uint(pin)
	}
	if err := a.dev.DBus(a.dbusDir, a.dbusVal); err != nil {
		return progctl.Wrap(progctl.KindIO, "ftdi adapter: DBus write failed", err)
	}
	return nil
}

func (a *Adapter) GPIOGet(pin int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return false, progctl.New(progctl.KindNotConnected, "ftdi adapter: not open")
	}
	if pin < 0 || pin > 7 {
		return false, progctl.New(progctl.KindInvalidArgument, "ftdi adapter: D-bus pin must be 0..7")
	}
	v, err := a.dev.DBusRead()
	if err != nil {
		return false, progctl.Wrap(progctl.KindIO, "ftdi adapter: DBus read failed", err)
	}
	return v&(1<<uint(pin)) != 0, nil
}
