// Package i2cengine implements the I²C EEPROM protocol engine (C3): paged
// writes with ACK-polling across a 7-bit device-address space that may be
// partitioned into multiple banks for larger EEPROMs.
package i2cengine

import (
	"context"
	"time"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

// Engine is the C3 strategy, bound to an open adapter and a descriptor
// giving the 7-bit base address and address-byte width.
type Engine struct {
	A        adapter.Adapter
	Desc     chipdb.Descriptor
	BaseAddr uint8 // 7-bit device address, e.g. 0x50

	Progress progctl.Sink
}

// New binds an Engine to an open adapter, descriptor, and base 7-bit
// device address.
func New(a adapter.Adapter, d chipdb.Descriptor, baseAddr uint8) *Engine {
	return &Engine{A: a, Desc: d, BaseAddr: baseAddr}
}

func (e *Engine) addrBytes() int {
	if e.Desc.AddressBits > 0 {
		if e.Desc.AddressBits > 8 {
			return 2
		}
		return 1
	}
	if e.Desc.SizeBytes > 256 {
		return 2
	}
	return 1
}

// bank splits a logical address into the device address (base ORed with
// high bits) and the in-bank offset, the way larger EEPROMs partition
// their address space across 2..8 device addresses per distilled spec
// §4.3.
func (e *Engine) bank(addr uint64) (dev uint8, offset uint32) {
	ab := e.addrBytes()
	bankSize := uint64(1) << uint(ab*8)
	bankIdx := addr / bankSize
	return e.BaseAddr | uint8(bankIdx), uint32(addr % bankSize)
}

// Read reads length bytes from addr, splitting across device-address banks
// and chunking each bank's reads to page_size.
func (e *Engine) Read(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	start := time.Now()
	if length == 0 {
		e.Progress.EmitProgress(progctl.ProgressInfo{OperationName: "read"})
		return out, nil
	}
	remaining := length
	cur := addr
	var done uint64
	total := uint64(length)
	pageSize := e.Desc.PageSize
	if pageSize == 0 {
		pageSize = 64
	}
	for remaining > 0 {
		if err := ctxErr(ctx); err != nil {
			return out, err
		}
		dev, offset := e.bank(cur)
		chunk := pageSize
		if chunk > remaining {
			chunk = remaining
		}
		bankSize := uint64(1) << uint(e.addrBytes()*8)
		if untilBank := bankSize - uint64(offset); uint64(chunk) > untilBank {
			chunk = uint32(untilBank)
		}
		data, err := e.A.I2CReadFromAddress(ctx, dev, offset, e.addrBytes(), int(chunk))
		if err != nil {
			return out, progctl.Wrap(progctl.KindIO, "i2cengine: read failed", err)
		}
		out = append(out, data...)
		cur += uint64(chunk)
		remaining -= chunk
		done += uint64(chunk)
		e.Progress.EmitProgress(progctl.ProgressInfo{
			OperationName: "read", CurrentBytes: done, TotalBytes: total, Elapsed: time.Since(start),
		})
	}
	return out, nil
}

// Write splits data into page-aligned chunks and ACK-polls after each page
// before issuing the next, switching device-address bank as the logical
// address crosses one.
func (e *Engine) Write(ctx context.Context, addr uint64, data []byte) error {
	if len(data) == 0 {
		e.Progress.EmitProgress(progctl.ProgressInfo{OperationName: "write"})
		return nil
	}
	pageSize := e.Desc.PageSize
	if pageSize == 0 {
		pageSize = 16
	}
	pageWriteMs := e.Desc.Timing.PageWriteMs
	if pageWriteMs == 0 {
		pageWriteMs = 10
	}
	start := time.Now()
	cur := addr
	remaining := data
	var done uint64
	total := uint64(len(data))
	for len(remaining) > 0 {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		dev, offset := e.bank(cur)
		untilBoundary := uint64(pageSize) - (uint64(offset) % uint64(pageSize))
		chunkLen := untilBoundary
		if chunkLen > uint64(len(remaining)) {
			chunkLen = uint64(len(remaining))
		}
		chunk := remaining[:chunkLen]
		if err := e.A.I2CWriteToAddress(ctx, dev, offset, e.addrBytes(), chunk); err != nil {
			return progctl.Wrap(progctl.KindIO, "i2cengine: write failed", err)
		}
		if err := e.ackPoll(ctx, dev, pageWriteMs); err != nil {
			return err
		}
		cur += chunkLen
		remaining = remaining[chunkLen:]
		done += chunkLen
		e.Progress.EmitProgress(progctl.ProgressInfo{
			OperationName: "write", CurrentBytes: done, TotalBytes: total, Elapsed: time.Since(start),
		})
	}
	return nil
}

// ackPoll probes dev with a zero-byte write until it ACKs or pageWriteMs
// elapses, modeling the EEPROM's internal write cycle.
func (e *Engine) ackPoll(ctx context.Context, dev uint8, pageWriteMs uint32) error {
	deadline := time.Now().Add(time.Duration(pageWriteMs) * time.Millisecond)
	for {
		if err := e.A.I2CWrite(ctx, dev, nil); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return progctl.New(progctl.KindTimeout, "i2cengine: ack-poll exceeded page_write_ms")
		}
		select {
		case <-ctx.Done():
			return progctl.Wrap(progctl.KindCancelled, "i2cengine: cancelled during ack-poll", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

// Erase fills [addr, addr+length) with 0xFF, per distilled spec §4.3.
func (e *Engine) Erase(ctx context.Context, addr uint64, length uint32) error {
	fill := make([]byte, length)
	for i := range fill {
		fill[i] = 0xFF
	}
	return e.Write(ctx, addr, fill)
}

// Verify reads back expected's length and compares byte-for-byte.
func (e *Engine) Verify(ctx context.Context, addr uint64, expected []byte) (bool, error) {
	got, err := e.Read(ctx, addr, uint32(len(expected)))
	if err != nil {
		return false, err
	}
	for i := range expected {
		if got[i] != expected[i] {
			return false, nil
		}
	}
	return true, nil
}

// BlankCheck reports whether every byte in [addr, addr+length) reads 0xFF.
func (e *Engine) BlankCheck(ctx context.Context, addr uint64, length uint32) (bool, error) {
	got, err := e.Read(ctx, addr, length)
	if err != nil {
		return false, err
	}
	for _, b := range got {
		if b != 0xFF {
			return false, nil
		}
	}
	return true, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return progctl.Wrap(progctl.KindCancelled, "i2cengine: operation cancelled", ctx.Err())
	default:
		return nil
	}
}
