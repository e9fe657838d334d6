package spiengine

import (
	"context"
	"time"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/progctl"
)

// Read reads len bytes starting at addr, chunked to at most 64KiB per
// primitive transfer, emitting a progress event after each chunk.
// Cancellable at chunk boundaries.
func (e *Engine) Read(ctx context.Context, addr uint32, length uint32) ([]byte, error) {
	if err := e.checkBounds(addr, length); err != nil {
		return nil, err
	}
	out := make([]byte, 0, length)
	start := time.Now()
	if length == 0 {
		e.Progress.EmitProgress(progctl.ProgressInfo{OperationName: "read", TotalBytes: 0, CurrentBytes: 0})
		return out, nil
	}
	remaining := length
	cur := addr
	var done uint32
	for remaining > 0 {
		if err := ctxErr(ctx); err != nil {
			return out, err
		}
		chunk := remaining
		if chunk > maxChunkRead {
			chunk = maxChunkRead
		}
		data, err := adapter.SPIReadWithAddress(ctx, e.A, e.cmds().READ, cur, e.addressBytes, int(chunk))
		if err != nil {
			return out, err
		}
		out = append(out, data...)
		cur += chunk
		remaining -= chunk
		done += chunk
		e.Progress.EmitProgress(progctl.ProgressInfo{
			OperationName: "read", CurrentBytes: uint64(done), TotalBytes: uint64(length), Elapsed: time.Since(start),
		})
	}
	return out, nil
}

// PageProgram writes data (at most page_size bytes) at addr. Crossing a
// page boundary is rejected with InvalidArgument and issues zero bus
// transactions, per distilled spec testable property 5.
func (e *Engine) PageProgram(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	pageSize := e.Desc.PageSize
	if uint32(len(data)) > pageSize {
		return progctl.New(progctl.KindInvalidArgument, "spiengine: page_program data exceeds page_size")
	}
	firstPage := addr / pageSize
	lastPage := (addr + uint32(len(data)) - 1) / pageSize
	if firstPage != lastPage {
		return progctl.New(progctl.KindInvalidArgument, "spiengine: page_program crosses a page boundary")
	}
	if err := e.WriteEnable(ctx); err != nil {
		return err
	}
	if err := adapter.SPIWriteWithAddress(ctx, e.A, e.cmds().PP, addr, e.addressBytes, data); err != nil {
		e.abortWrite(ctx)
		return err
	}
	if err := e.WaitNotBusy(ctx, e.Desc.Timing.PageProgramMs); err != nil {
		e.abortWrite(ctx)
		return err
	}
	return nil
}

// Write splits data into page-aligned chunks and programs each, emitting
// progress after every page.
func (e *Engine) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := e.checkBounds(addr, uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		e.Progress.EmitProgress(progctl.ProgressInfo{OperationName: "write", TotalBytes: 0, CurrentBytes: 0})
		return nil
	}
	pageSize := e.Desc.PageSize
	start := time.Now()
	cur := addr
	remaining := data
	var done uint64
	total := uint64(len(data))
	for len(remaining) > 0 {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		untilBoundary := pageSize - (cur % pageSize)
		chunkLen := untilBoundary
		if chunkLen > uint32(len(remaining)) {
			chunkLen = uint32(len(remaining))
		}
		if err := e.PageProgram(ctx, cur, remaining[:chunkLen]); err != nil {
			return err
		}
		cur += chunkLen
		remaining = remaining[chunkLen:]
		done += uint64(chunkLen)
		e.Progress.EmitProgress(progctl.ProgressInfo{
			OperationName: "write", CurrentBytes: done, TotalBytes: total, Elapsed: time.Since(start),
		})
	}
	return nil
}

// EraseSector erases the 4KiB-granularity sector containing addr.
func (e *Engine) EraseSector(ctx context.Context, addr uint32) error {
	return e.erase(ctx, e.cmds().SE, addr, e.Desc.Timing.SectorEraseMs)
}

// EraseBlock erases the block containing addr.
func (e *Engine) EraseBlock(ctx context.Context, addr uint32) error {
	return e.erase(ctx, e.cmds().BE, addr, e.Desc.Timing.BlockEraseMs)
}

// EraseChip erases the entire chip.
func (e *Engine) EraseChip(ctx context.Context) error {
	if err := e.WriteEnable(ctx); err != nil {
		return err
	}
	if _, err := e.transfer(ctx, []byte{e.cmds().CE}, 0); err != nil {
		e.abortWrite(ctx)
		return err
	}
	if err := e.WaitNotBusy(ctx, e.Desc.Timing.ChipEraseMs); err != nil {
		e.abortWrite(ctx)
		return err
	}
	return nil
}

func (e *Engine) erase(ctx context.Context, cmd byte, addr uint32, maxMs uint32) error {
	if err := e.WriteEnable(ctx); err != nil {
		return err
	}
	if err := adapter.SPIWriteWithAddress(ctx, e.A, cmd, addr, e.addressBytes, nil); err != nil {
		e.abortWrite(ctx)
		return err
	}
	if err := e.WaitNotBusy(ctx, maxMs); err != nil {
		e.abortWrite(ctx)
		return err
	}
	return nil
}

// Verify streams a read of expected's length from addr and compares
// byte-for-byte, returning false (with no error) on the first mismatch.
func (e *Engine) Verify(ctx context.Context, addr uint32, expected []byte) (bool, error) {
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
func (e *Engine) BlankCheck(ctx context.Context, addr uint32, length uint32) (bool, error) {
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

func (e *Engine) checkBounds(addr, length uint32) error {
	end := uint64(addr) + uint64(length)
	if end > e.Desc.SizeBytes {
		return progctl.New(progctl.KindInvalidArgument, "spiengine: addr+len exceeds chip size")
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return progctl.Wrap(progctl.KindCancelled, "spiengine: operation cancelled", ctx.Err())
	default:
		return nil
	}
}
