package ch341

import (
	"context"

	"github.com/flashprog/flashprog/progctl"
)

// GPIOSet/GPIOGet drive D0-D5 through the CH341A's UIO stream command
// (the same primitive the vendor ABI calls Set_D5_D0 per distilled spec
// §6's illustrative Adapter ABI note).
func (a *Adapter) GPIOSet(pin int, high bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	if pin < 0 || pin > 5 {
		return progctl.New(progctl.KindInvalidArgument, "ch341 adapter: UIO pin must be 0..5")
	}
	val := byte(0)
	if high {
		val = 1 << uint(pin)
	}
	cmd := []byte{cmdUIOStream, uioStreamOut | val, uioStreamDir | 0x3F, uioStreamEnd}
	return a.bulkWrite(context.Background(), cmd)
}

func (a *Adapter) GPIOGet(pin int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return false, progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	if pin < 0 || pin > 5 {
		return false, progctl.New(progctl.KindInvalidArgument, "ch341 adapter: UIO pin must be 0..5")
	}
	cmd := []byte{cmdUIOStream, uioStreamDir, uioStreamEnd}
	if err := a.bulkWrite(context.Background(), cmd); err != nil {
		return false, err
	}
	got, err := a.bulkRead(context.Background(), 1)
	if err != nil {
		return false, err
	}
	if len(got) == 0 {
		return false, progctl.New(progctl.KindIO, "ch341 adapter: UIO read returned no data")
	}
	return got[0]&(1<<uint(pin)) != 0, nil
}
