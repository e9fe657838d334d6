package faketest

import (
	"context"

	"github.com/flashprog/flashprog/progctl"
)

func (a *Adapter) I2CInit(khz int) error { return nil }
func (a *Adapter) I2CDeinit() error      { return nil }

func (a *Adapter) I2CScan(ctx context.Context) ([]uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint8, 0, len(a.I2CMem))
	for dev := range a.I2CMem {
		out = append(out, dev)
	}
	return out, nil
}

func (a *Adapter) I2CRead(ctx context.Context, dev uint8, length int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.I2CMem[dev]
	if !ok {
		return nil, progctl.New(progctl.KindIO, "fake: no such i2c device")
	}
	out := make([]byte, length)
	copy(out, mem)
	return out, nil
}

func (a *Adapter) I2CWrite(ctx context.Context, dev uint8, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.I2CMem[dev]
	if !ok {
		return progctl.New(progctl.KindIO, "fake: no such i2c device")
	}
	copy(mem, data)
	return nil
}

func (a *Adapter) I2CReadFromAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, length int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.I2CMem[dev]
	if !ok {
		return nil, progctl.New(progctl.KindIO, "fake: no such i2c device")
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		idx := int(memAddr) + i
		if idx < len(mem) {
			out[i] = mem[idx]
		} else {
			out[i] = 0xFF
		}
	}
	return out, nil
}

func (a *Adapter) I2CWriteToAddress(ctx context.Context, dev uint8, memAddr uint32, addrBytes int, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	mem, ok := a.I2CMem[dev]
	if !ok {
		return progctl.New(progctl.KindIO, "fake: no such i2c device")
	}
	for i, b := range data {
		idx := int(memAddr) + i
		if idx < len(mem) {
			mem[idx] = b
		}
	}
	return nil
}
