package orchestrator

import (
	"context"

	"github.com/flashprog/flashprog/i2cengine"
	"github.com/flashprog/flashprog/mwengine"
	"github.com/flashprog/flashprog/progctl"
	"github.com/flashprog/flashprog/spiengine"
)

// protocolEngine is the chip- and adapter-agnostic surface the Session
// drives, unifying the three protocol-specific engines (C2/C3/C4) behind
// one interface so C6 can "pick the matching engine" per distilled spec
// §4.6 without a type switch at every call site.
type protocolEngine interface {
	Read(ctx context.Context, addr uint64, length uint32) ([]byte, error)
	Write(ctx context.Context, addr uint64, data []byte) error
	Verify(ctx context.Context, addr uint64, expected []byte) (bool, error)
	BlankCheck(ctx context.Context, addr uint64, length uint32) (bool, error)
	EraseChip(ctx context.Context) error
	EraseSector(ctx context.Context, addr uint64) (effectiveStart, effectiveLen uint64, err error)
	EraseBlock(ctx context.Context, addr uint64) (effectiveStart, effectiveLen uint64, err error)
	EraseRange(ctx context.Context, addr uint64, length uint64) (effectiveStart, effectiveLen uint64, err error)
	Progress() *progctl.Sink
}

type spiShim struct{ e *spiengine.Engine }

func (s spiShim) Read(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	return s.e.Read(ctx, uint32(addr), length)
}
func (s spiShim) Write(ctx context.Context, addr uint64, data []byte) error {
	return s.e.Write(ctx, uint32(addr), data)
}
func (s spiShim) Verify(ctx context.Context, addr uint64, expected []byte) (bool, error) {
	return s.e.Verify(ctx, uint32(addr), expected)
}
func (s spiShim) BlankCheck(ctx context.Context, addr uint64, length uint32) (bool, error) {
	return s.e.BlankCheck(ctx, uint32(addr), length)
}
func (s spiShim) EraseChip(ctx context.Context) error { return s.e.EraseChip(ctx) }
func (s spiShim) EraseSector(ctx context.Context, addr uint64) (uint64, uint64, error) {
	sectorSize := uint64(s.e.Desc.SectorSize)
	start := (addr / sectorSize) * sectorSize
	if err := s.e.EraseSector(ctx, uint32(start)); err != nil {
		return start, sectorSize, err
	}
	return start, sectorSize, nil
}
func (s spiShim) EraseBlock(ctx context.Context, addr uint64) (uint64, uint64, error) {
	blockSize := uint64(s.e.Desc.BlockSize)
	if blockSize == 0 {
		blockSize = uint64(s.e.Desc.SectorSize)
	}
	start := (addr / blockSize) * blockSize
	if err := s.e.EraseBlock(ctx, uint32(start)); err != nil {
		return start, blockSize, err
	}
	return start, blockSize, nil
}
func (s spiShim) EraseRange(ctx context.Context, addr uint64, length uint64) (uint64, uint64, error) {
	sectorSize := uint64(s.e.Desc.SectorSize)
	start := (addr / sectorSize) * sectorSize
	end := addr + length
	if end%sectorSize != 0 {
		end += sectorSize - (end % sectorSize)
	}
	for a := start; a < end; a += sectorSize {
		if err := s.e.EraseSector(ctx, uint32(a)); err != nil {
			return start, end - start, err
		}
	}
	return start, end - start, nil
}
func (s spiShim) Progress() *progctl.Sink { return &s.e.Progress }

type i2cShim struct{ e *i2cengine.Engine }

func (s i2cShim) Read(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	return s.e.Read(ctx, addr, length)
}
func (s i2cShim) Write(ctx context.Context, addr uint64, data []byte) error {
	return s.e.Write(ctx, addr, data)
}
func (s i2cShim) Verify(ctx context.Context, addr uint64, expected []byte) (bool, error) {
	return s.e.Verify(ctx, addr, expected)
}
func (s i2cShim) BlankCheck(ctx context.Context, addr uint64, length uint32) (bool, error) {
	return s.e.BlankCheck(ctx, addr, length)
}
func (s i2cShim) EraseChip(ctx context.Context) error {
	return s.e.Erase(ctx, 0, uint32(s.e.Desc.SizeBytes))
}
func (s i2cShim) EraseSector(ctx context.Context, addr uint64) (uint64, uint64, error) {
	pageSize := uint64(s.e.Desc.PageSize)
	start := (addr / pageSize) * pageSize
	return start, pageSize, s.e.Erase(ctx, start, uint32(pageSize))
}
func (s i2cShim) EraseBlock(ctx context.Context, addr uint64) (uint64, uint64, error) {
	return s.EraseSector(ctx, addr)
}
func (s i2cShim) EraseRange(ctx context.Context, addr uint64, length uint64) (uint64, uint64, error) {
	return addr, length, s.e.Erase(ctx, addr, uint32(length))
}
func (s i2cShim) Progress() *progctl.Sink { return &s.e.Progress }

type mwShim struct{ e *mwengine.Engine }

func (s mwShim) Read(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	return s.e.ReadBytes(ctx, uint16(addr), int(length))
}
func (s mwShim) Write(ctx context.Context, addr uint64, data []byte) error {
	return s.e.WriteBytes(ctx, uint16(addr), data)
}
func (s mwShim) Verify(ctx context.Context, addr uint64, expected []byte) (bool, error) {
	got, err := s.e.ReadBytes(ctx, uint16(addr), len(expected))
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
func (s mwShim) BlankCheck(ctx context.Context, addr uint64, length uint32) (bool, error) {
	got, err := s.e.ReadBytes(ctx, uint16(addr), int(length))
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
func (s mwShim) EraseChip(ctx context.Context) error { return s.e.EraseAll(ctx) }
func (s mwShim) EraseSector(ctx context.Context, addr uint64) (uint64, uint64, error) {
	return addr, 2, s.e.EraseWord(ctx, uint16(addr/2))
}
func (s mwShim) EraseBlock(ctx context.Context, addr uint64) (uint64, uint64, error) {
	return s.EraseSector(ctx, addr)
}
func (s mwShim) EraseRange(ctx context.Context, addr uint64, length uint64) (uint64, uint64, error) {
	for a := addr; a < addr+length; a += 2 {
		if err := s.e.EraseWord(ctx, uint16(a/2)); err != nil {
			return addr, length, err
		}
	}
	return addr, length, nil
}
func (s mwShim) Progress() *progctl.Sink { return &s.e.Progress }
