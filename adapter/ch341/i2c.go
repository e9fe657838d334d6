package ch341

import (
	"context"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/progctl"
)

func (a *Adapter) I2CInit(khz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	speedBits := byte(1) // ~100kHz standard mode
	if khz >= 400 {
		speedBits = 2
	}
	if khz >= 750 {
		speedBits = 3
	}
	return a.bulkWrite(context.Background(), []byte{cmdI2CStream, i2cStreamSet | speedBits, i2cStreamEnd})
}

func (a *Adapter) I2CDeinit() error { return nil }

// i2cTx runs one START...STOP transaction: w is clocked out (with the
// 7-bit address + R/W bit as its first byte), then up to 32 bytes are
// clocked in per IN burst if r is non-nil.
func (a *Adapter) i2cTx(ctx context.Context, addr uint8, write bool, w, r []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	addrByte := addr << 1
	if !write {
		addrByte |= 1
	}
	cmd := []byte{cmdI2CStream, i2cStreamSTA}
	out := append([]byte{addrByte}, w...)
	cmd = append(cmd, i2cStreamOut|byte(len(out)))
	cmd = append(cmd, out...)
	if len(r) > 0 {
		remaining := len(r)
		for remaining > 0 {
			n := remaining
			if n > i2cStreamMax {
				n = i2cStreamMax
			}
			last := n == remaining
			b := i2cStreamIn | byte(n)
			if last {
				// NAK the final byte so the slave releases the bus.
				b |= 0x1
			}
			cmd = append(cmd, b)
			remaining -= n
		}
	}
	cmd = append(cmd, i2cStreamSTO, i2cStreamEnd)
	if err := a.bulkWrite(ctx, cmd); err != nil {
		return err
	}
	if len(r) > 0 {
		got, err := a.bulkRead(ctx, len(r))
		if err != nil {
			return err
		}
		copy(r, got)
	}
	return nil
}

func (a *Adapter) I2CScan(ctx context.Context) ([]uint8, error) {
	var found []uint8
	for dev := uint8(0x03); dev <= 0x77; dev++ {
		if err := ctxErr(ctx); err != nil {
			return found, err
		}
		if err := a.i2cTx(ctx, dev, true, nil, nil); err == nil {
			found = append(found, dev)
		}
	}
	return found, nil
}

func (a *Adapter) I2CRead(ctx context.Context, dev uint8, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := a.i2cTx(ctx, dev, false, nil, buf); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ch341 adapter: I2C read failed", err)
	}
	return buf, nil
}

func (a *Adapter) I2CWrite(ctx context.Context, dev uint8, data []byte) error {
	if err := a.i2cTx(ctx, dev, true, data, nil); err != nil {
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: I2C write failed", err)
	}
	return nil
}

func (a *Adapter) I2CReadFromAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, length int) ([]byte, error) {
	addr, err := adapter.MarshalAddress(memAddr, addrBytes)
	if err != nil {
		return nil, err
	}
	if err := a.i2cTx(ctx, dev, true, addr, nil); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ch341 adapter: I2C address-write phase failed", err)
	}
	buf := make([]byte, length)
	if err := a.i2cTx(ctx, dev, false, nil, buf); err != nil {
		return nil, progctl.Wrap(progctl.KindIO, "ch341 adapter: I2C read-from-address failed", err)
	}
	return buf, nil
}

func (a *Adapter) I2CWriteToAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, data []byte) error {
	addr, err := adapter.MarshalAddress(memAddr, addrBytes)
	if err != nil {
		return err
	}
	w := append(addr, data...)
	if err := a.i2cTx(ctx, dev, true, w, nil); err != nil {
		return progctl.Wrap(progctl.KindIO, "ch341 adapter: I2C write-to-address failed", err)
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return progctl.Wrap(progctl.KindCancelled, "ch341 adapter: operation cancelled", ctx.Err())
	default:
		return nil
	}
}
