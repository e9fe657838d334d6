// Package spiengine implements the SPI NOR/NAND protocol engine (C2): a
// stateless strategy over an open adapter.Adapter plus a bound
// chipdb.Descriptor, translating logical read/erase/write requests into
// JEDEC command sequences with correct status polling.
package spiengine

import (
	"context"
	"time"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

const (
	statusBusy = 1 << 0
	statusWEL  = 1 << 1

	maxChunkRead = 64 * 1024

	maxTransientRetries = 3
)

var retryBackoff = []time.Duration{time.Millisecond, 5 * time.Millisecond, 25 * time.Millisecond}

// Engine is the C2 strategy. It carries only the current address-byte
// width and a debug flag as mutable state, per distilled spec §4.2.
type Engine struct {
	A    adapter.Adapter
	Desc chipdb.Descriptor

	addressBytes int
	Debug        bool

	Progress progctl.Sink
}

// New binds an Engine to an already-open adapter and descriptor, defaulting
// the address-byte width to the descriptor's own (Open Question 1's
// resolution: per-descriptor default, overridable through SetAddressBytes).
// Per distilled spec §4.2, a descriptor with no explicit AddressBytes still
// gets 4-byte addressing once its size exceeds the 16MiB reach of 3 bytes.
func New(a adapter.Adapter, d chipdb.Descriptor) *Engine {
	ab := d.AddressBytes
	if ab == 0 {
		ab = 3
		if d.SizeBytes > 16*1024*1024 {
			ab = 4
		}
	}
	return &Engine{A: a, Desc: d, addressBytes: ab}
}

// AddressBytes returns the address width this Engine currently uses.
func (e *Engine) AddressBytes() int { return e.addressBytes }

// SetAddressBytes overrides the address width for subsequent operations,
// per distilled spec §9 Open Question 1.
func (e *Engine) SetAddressBytes(n int) error {
	if n != 3 && n != 4 {
		return progctl.New(progctl.KindInvalidArgument, "spiengine: address width must be 3 or 4")
	}
	e.addressBytes = n
	return nil
}

func (e *Engine) cmds() chipdb.Commands { return e.Desc.Commands.WithDefaults() }

// transfer wraps adapter.SPITransfer with the bounded-retry-on-transient-IO
// policy distilled spec §5/§7 specify: up to 3 retries after the first
// attempt, with exponential backoff 1/5/25ms before each retry, only for
// KindIO; any other Kind propagates unretried.
func (e *Engine) transfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		out, err := e.A.SPITransfer(ctx, write, readLen)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if progctl.KindOf(err) != progctl.KindIO {
			return nil, err
		}
		if attempt < maxTransientRetries {
			select {
			case <-ctx.Done():
				return nil, progctl.Wrap(progctl.KindCancelled, "spiengine: cancelled during retry backoff", ctx.Err())
			case <-time.After(retryBackoff[attempt]):
			}
		}
	}
	return nil, progctl.Wrap(progctl.KindIO, "spiengine: transfer failed after retries", lastErr)
}

// Detect issues RDID and reports the resulting memory id. It never mutates
// chip state.
func (e *Engine) Detect(ctx context.Context) (chipdb.MemoryId, error) {
	out, err := e.transfer(ctx, []byte{e.cmds().RDID}, 3)
	if err != nil {
		return chipdb.MemoryId{}, err
	}
	if out[0] == 0x00 && out[1] == 0x00 && out[2] == 0x00 {
		return chipdb.MemoryId{}, progctl.New(progctl.KindNotConnected, "spiengine: RDID returned all-zero, no device on bus")
	}
	return chipdb.MemoryIdFromRaw(out)
}

// ReadStatus issues RDSR and returns the first byte.
func (e *Engine) ReadStatus(ctx context.Context) (byte, error) {
	out, err := e.transfer(ctx, []byte{e.cmds().RDSR}, 1)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// WriteEnable issues WREN and verifies WEL latches on the next RDSR poll,
// retrying WREN once before failing with ProtocolError, per distilled spec
// §4.2.
func (e *Engine) WriteEnable(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := e.transfer(ctx, []byte{e.cmds().WREN}, 0); err != nil {
			return err
		}
		st, err := e.ReadStatus(ctx)
		if err != nil {
			return err
		}
		if st&statusWEL != 0 {
			return nil
		}
	}
	return progctl.New(progctl.KindProtocolError, "spiengine: WEL did not latch after WREN retry")
}

// WriteDisable issues WRDI.
func (e *Engine) WriteDisable(ctx context.Context) error {
	_, err := e.transfer(ctx, []byte{e.cmds().WRDI}, 0)
	return err
}

// WaitNotBusy polls RDSR at an adaptive interval (1ms initially, doubling
// to a 50ms cap) until BUSY clears, failing with Timeout at maxMs elapsed.
func (e *Engine) WaitNotBusy(ctx context.Context, maxMs uint32) error {
	deadline := time.Now().Add(time.Duration(maxMs) * time.Millisecond)
	interval := time.Millisecond
	for {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		st, err := e.ReadStatus(ctx)
		if err != nil {
			return err
		}
		if st&statusBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return progctl.New(progctl.KindTimeout, "spiengine: wait_not_busy exceeded max_ms")
		}
		select {
		case <-ctx.Done():
			return progctl.Wrap(progctl.KindCancelled, "spiengine: cancelled while waiting for busy", ctx.Err())
		case <-time.After(interval):
		}
		if interval < 50*time.Millisecond {
			interval *= 2
			if interval > 50*time.Millisecond {
				interval = 50 * time.Millisecond
			}
		}
	}
}

// abortWrite clears WEL after a failed WREN-gated operation, per distilled
// spec §4.2's "On failure after WREN, the engine sends WRDI" state
// transition.
func (e *Engine) abortWrite(ctx context.Context) {
	_ = e.WriteDisable(ctx)
}
