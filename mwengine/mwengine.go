// Package mwengine implements the MicroWire protocol engine (C4): bit-level
// READ/WRITE/ERASE/EWEN/EWDS/WRAL/ERAL commands at a runtime-configurable
// 6..12 bit address width, operating on top of adapter.Adapter's MicroWire
// primitives.
package mwengine

import (
	"context"
	"time"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

// Engine is the C4 strategy, bound to an open adapter and a descriptor
// giving the address width (6..12 bits).
type Engine struct {
	A    adapter.Adapter
	Desc chipdb.Descriptor

	Progress progctl.Sink
}

// New binds an Engine to an open adapter and descriptor, initializing the
// adapter's MicroWire address width.
func New(ctx context.Context, a adapter.Adapter, d chipdb.Descriptor) (*Engine, error) {
	if d.AddressBits < 6 || d.AddressBits > 12 {
		return nil, progctl.New(progctl.KindInvalidArgument, "mwengine: address_bits must be 6..12")
	}
	if err := a.MWInit(d.AddressBits); err != nil {
		return nil, err
	}
	return &Engine{A: a, Desc: d}, nil
}

func (e *Engine) checkAddr(addr uint16) error {
	if uint32(addr) >= 1<<uint(e.Desc.AddressBits) {
		return progctl.New(progctl.KindInvalidArgument, "mwengine: address out of range for address_bits")
	}
	return nil
}

func (e *Engine) writeWordMs() uint32 {
	if e.Desc.Timing.WriteWordMs == 0 {
		return 10
	}
	return e.Desc.Timing.WriteWordMs
}

// ReadWord reads the 16-bit word at addr.
func (e *Engine) ReadWord(ctx context.Context, addr uint16) (uint16, error) {
	if err := e.checkAddr(addr); err != nil {
		return 0, err
	}
	words, err := e.A.MWRead(ctx, addr, 1)
	if err != nil {
		return 0, progctl.Wrap(progctl.KindIO, "mwengine: read failed", err)
	}
	return words[0], nil
}

// WriteWord writes v at addr, preceded by EWEN and followed by a busy-poll
// (DO-high ready, modeled here as a bounded wait) up to write_word_ms.
func (e *Engine) WriteWord(ctx context.Context, addr uint16, v uint16) error {
	if err := e.checkAddr(addr); err != nil {
		return err
	}
	if err := e.A.MWEnable(); err != nil {
		return err
	}
	defer e.A.MWDisable()
	if err := e.A.MWWrite(ctx, addr, []uint16{v}); err != nil {
		return progctl.Wrap(progctl.KindIO, "mwengine: write failed", err)
	}
	return e.waitReady(ctx)
}

// EraseWord erases the word at addr (ERASE).
func (e *Engine) EraseWord(ctx context.Context, addr uint16) error {
	if err := e.checkAddr(addr); err != nil {
		return err
	}
	if err := e.A.MWEnable(); err != nil {
		return err
	}
	defer e.A.MWDisable()
	if err := e.A.MWErase(addr); err != nil {
		return progctl.Wrap(progctl.KindIO, "mwengine: erase failed", err)
	}
	return e.waitReady(ctx)
}

// WriteAll writes v to every word (WRAL).
func (e *Engine) WriteAll(ctx context.Context, v uint16) error {
	if err := e.A.MWEnable(); err != nil {
		return err
	}
	defer e.A.MWDisable()
	total := uint64(1) << uint(e.Desc.AddressBits)
	for addr := uint64(0); addr < total; addr++ {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if err := e.A.MWWrite(ctx, uint16(addr), []uint16{v}); err != nil {
			return progctl.Wrap(progctl.KindIO, "mwengine: write_all failed", err)
		}
		e.Progress.EmitProgress(progctl.ProgressInfo{OperationName: "write_all", CurrentBytes: addr + 1, TotalBytes: total})
	}
	return e.waitReady(ctx)
}

// EraseAll erases every word (ERAL).
func (e *Engine) EraseAll(ctx context.Context) error {
	if err := e.A.MWEnable(); err != nil {
		return err
	}
	defer e.A.MWDisable()
	if err := e.A.MWEraseAll(); err != nil {
		return progctl.Wrap(progctl.KindIO, "mwengine: erase_all failed", err)
	}
	return e.waitReady(ctx)
}

// ReadBytes reads length bytes (must be even; odd is InvalidArgument, per
// distilled spec §4.4) starting at the word addr.
func (e *Engine) ReadBytes(ctx context.Context, addr uint16, length int) ([]byte, error) {
	if length%2 != 0 {
		return nil, progctl.New(progctl.KindInvalidArgument, "mwengine: byte length must be even (word-addressed)")
	}
	out := make([]byte, 0, length)
	for i := 0; i < length/2; i++ {
		w, err := e.ReadWord(ctx, addr+uint16(i))
		if err != nil {
			return out, err
		}
		out = append(out, byte(w>>8), byte(w))
	}
	return out, nil
}

// WriteBytes writes data (even length) starting at the word addr.
func (e *Engine) WriteBytes(ctx context.Context, addr uint16, data []byte) error {
	if len(data)%2 != 0 {
		return progctl.New(progctl.KindInvalidArgument, "mwengine: byte length must be even (word-addressed)")
	}
	for i := 0; i < len(data)/2; i++ {
		w := uint16(data[2*i])<<8 | uint16(data[2*i+1])
		if err := e.WriteWord(ctx, addr+uint16(i), w); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(e.writeWordMs()) * time.Millisecond)
	for {
		ready, err := e.A.GPIOGet(7) // DO line; adapter/ftdi bit-bangs MicroWire DO on D-bus pin 7
		if err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return progctl.New(progctl.KindTimeout, "mwengine: write/erase not ready within write_word_ms")
		}
		select {
		case <-ctx.Done():
			return progctl.Wrap(progctl.KindCancelled, "mwengine: cancelled while waiting ready", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return progctl.Wrap(progctl.KindCancelled, "mwengine: operation cancelled", ctx.Err())
	default:
		return nil
	}
}
