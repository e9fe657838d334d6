package faketest

import (
	"context"

	"github.com/flashprog/flashprog/progctl"
)

func (a *Adapter) MWInit(addressBits int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mwAddrBits = addressBits
	return nil
}

func (a *Adapter) MWDeinit() error { return nil }

func (a *Adapter) MWEnable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mwErase = true
	return nil
}

func (a *Adapter) MWDisable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mwErase = false
	return nil
}

func (a *Adapter) checkAddr(addr uint16) error {
	if int(addr) >= 1<<uint(a.mwAddrBits) {
		return progctl.New(progctl.KindInvalidArgument, "fake: microwire address out of range")
	}
	return nil
}

func (a *Adapter) MWRead(ctx context.Context, addr uint16, words int) ([]uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint16, words)
	for i := 0; i < words; i++ {
		idx := int(addr) + i
		if err := a.checkAddr(uint16(idx)); err != nil {
			return nil, err
		}
		out[i] = a.MWMem[idx]
	}
	return out, nil
}

func (a *Adapter) MWWrite(ctx context.Context, addr uint16, data []uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mwErase {
		return progctl.New(progctl.KindProtocolError, "fake: write without EWEN")
	}
	for i, v := range data {
		idx := int(addr) + i
		if err := a.checkAddr(uint16(idx)); err != nil {
			return err
		}
		a.MWMem[idx] = v
	}
	return nil
}

func (a *Adapter) MWErase(addr uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mwErase {
		return progctl.New(progctl.KindProtocolError, "fake: erase without EWEN")
	}
	if err := a.checkAddr(addr); err != nil {
		return err
	}
	a.MWMem[addr] = 0xFFFF
	return nil
}

func (a *Adapter) MWEraseAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.mwErase {
		return progctl.New(progctl.KindProtocolError, "fake: erase-all without EWEN")
	}
	for i := range a.MWMem {
		a.MWMem[i] = 0xFFFF
	}
	return nil
}
