package orchestrator

import (
	"context"
	"os"

	"github.com/flashprog/flashprog/progctl"
)

// ReadMemory reads length bytes starting at addr from the bound chip.
func (s *Session) ReadMemory(ctx context.Context, addr uint64, length uint32) (out []byte, err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return nil, err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return nil, err
	}
	defer finish(&err)
	out, err = eng.Read(opCtx, addr, length)
	return out, err
}

// WriteMemory writes data starting at addr to the bound chip.
func (s *Session) WriteMemory(ctx context.Context, addr uint64, data []byte) (err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return err
	}
	defer finish(&err)
	err = eng.Write(opCtx, addr, data)
	return err
}

// VerifyMemory reads back data's length from addr and compares
// byte-for-byte against data.
func (s *Session) VerifyMemory(ctx context.Context, addr uint64, data []byte) (ok bool, err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return false, err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return false, err
	}
	defer finish(&err)
	ok, err = eng.Verify(opCtx, addr, data)
	return ok, err
}

// BlankCheck reports whether [addr, addr+length) reads as all 0xFF.
func (s *Session) BlankCheck(ctx context.Context, addr uint64, length uint32) (ok bool, err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return false, err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return false, err
	}
	defer finish(&err)
	ok, err = eng.BlankCheck(opCtx, addr, length)
	return ok, err
}

// Erase performs a Chip, Block, Sector, or Range erase. Range erases may
// round outward to sector boundaries; the effective range actually erased
// is returned.
func (s *Session) Erase(ctx context.Context, kind EraseKind, addr uint64, length uint64) (effectiveAddr, effectiveLen uint64, err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return 0, 0, err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer finish(&err)

	switch kind {
	case EraseChip:
		err = eng.EraseChip(opCtx)
		return 0, 0, err
	case EraseBlock:
		effectiveAddr, effectiveLen, err = eng.EraseBlock(opCtx, addr)
		return effectiveAddr, effectiveLen, err
	case EraseSector:
		effectiveAddr, effectiveLen, err = eng.EraseSector(opCtx, addr)
		return effectiveAddr, effectiveLen, err
	case EraseRange:
		effectiveAddr, effectiveLen, err = eng.EraseRange(opCtx, addr, length)
		return effectiveAddr, effectiveLen, err
	default:
		err = progctl.New(progctl.KindInvalidArgument, "orchestrator: unknown erase kind")
		return 0, 0, err
	}
}

// ProgramAndVerify sequences pre-erase (range) -> write -> read-back
// verify. Any step failure aborts subsequent steps. The end of each step is
// marked on the bound engine's progress sink by a "program_and_verify"
// event at 40%, 80% and 100% (CurrentBytes 40, 80, 100 of TotalBytes 100).
// The engine's own "write" and "read" events in between keep their
// per-step byte counts; they are not rescaled into the 40-80% and 80-100%
// bands. Cancellation mid-write leaves the target memory in whatever state
// the bus sequence produced; no rollback is attempted (distilled spec §9
// Open Question 3 / DESIGN.md).
func (s *Session) ProgramAndVerify(ctx context.Context, addr uint64, data []byte) (err error) {
	eng, err := s.boundEngine()
	if err != nil {
		return err
	}
	opCtx, finish, err := s.beginOp(ctx)
	if err != nil {
		return err
	}
	defer finish(&err)

	sink := eng.Progress()

	if _, _, err = eng.EraseRange(opCtx, addr, uint64(len(data))); err != nil {
		return err
	}
	sink.EmitProgress(progctl.ProgressInfo{OperationName: "program_and_verify", CurrentBytes: 40, TotalBytes: 100, Message: "erase complete"})

	if err = eng.Write(opCtx, addr, data); err != nil {
		return err
	}
	sink.EmitProgress(progctl.ProgressInfo{OperationName: "program_and_verify", CurrentBytes: 80, TotalBytes: 100, Message: "write complete"})

	var ok bool
	ok, err = eng.Verify(opCtx, addr, data)
	if err != nil {
		return err
	}
	if !ok {
		err = progctl.New(progctl.KindVerifyMismatch, "orchestrator: read-back verify failed after program")
		return err
	}
	sink.EmitProgress(progctl.ProgressInfo{OperationName: "program_and_verify", CurrentBytes: 100, TotalBytes: 100, Message: "verify complete"})
	return nil
}

// ReadToFile reads length bytes from addr and writes them to path.
func (s *Session) ReadToFile(ctx context.Context, addr uint64, length uint32, path string) error {
	data, err := s.ReadMemory(ctx, addr, length)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return progctl.Wrap(progctl.KindIO, "orchestrator: write image file failed", err)
	}
	return nil
}

// WriteFromFile reads path and programs its contents starting at addr.
func (s *Session) WriteFromFile(ctx context.Context, addr uint64, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return progctl.Wrap(progctl.KindIO, "orchestrator: read image file failed", err)
	}
	return s.WriteMemory(ctx, addr, data)
}
