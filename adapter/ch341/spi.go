package ch341

import (
	"context"

	"github.com/flashprog/flashprog/progctl"
)

func (a *Adapter) SPIInit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	return nil
}

func (a *Adapter) SPIDeinit() error { return nil }

// SPITransfer shifts write out, then readLen zero bytes in, as one
// chip-select-asserted CH341A SPI stream command. The CH341A shifts at
// most maxSPIChunk bytes per bulk packet, so longer transfers are split
// across several stream commands while CS (asserted by the firmware for
// the duration of the stream command byte run) stays low.
func (a *Adapter) SPITransfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, progctl.New(progctl.KindNotConnected, "ch341 adapter: not open")
	}
	full := make([]byte, len(write)+readLen)
	copy(full, write)
	reply := make([]byte, 0, len(full))
	for off := 0; off < len(full); off += maxSPIChunk {
		end := off + maxSPIChunk
		if end > len(full) {
			end = len(full)
		}
		chunk := full[off:end]
		pkt := make([]byte, 1+len(chunk))
		pkt[0] = cmdSPIStream
		copy(pkt[1:], chunk)
		if err := a.bulkWrite(ctx, pkt); err != nil {
			return nil, err
		}
		got, err := a.bulkRead(ctx, len(chunk))
		if err != nil {
			return nil, err
		}
		reply = append(reply, got...)
	}
	return reply[len(write):], nil
}
