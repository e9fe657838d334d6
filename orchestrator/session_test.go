package orchestrator

import (
	"bytes"
	"context"
	"testing"

	"github.com/flashprog/flashprog/adapter/faketest"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

func w25q32() chipdb.Descriptor {
	return chipdb.Descriptor{
		ID: "w25q32", Name: "W25Q32", Protocol: chipdb.ProtocolSPI,
		SizeBytes: 4 * 1024 * 1024, PageSize: 256, SectorSize: 4096, BlockSize: 65536,
		MemoryID: chipdb.MemoryId{ManufacturerID: 0xEF, DeviceID: 0x4016}, AddressBytes: 3,
		Timing: chipdb.Timing{PageProgramMs: 3, SectorEraseMs: 400, BlockEraseMs: 2000, ChipEraseMs: 20000},
	}
}

func newConnectedSession(t *testing.T) (*Session, *faketest.Adapter) {
	t.Helper()
	db := chipdb.New()
	db.Upsert(w25q32())
	s := NewSession(db)
	fa := faketest.New()
	if err := s.Connect(context.Background(), fa, ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, fa
}

func TestDetectUnknownChipStillReportsID(t *testing.T) {
	db := chipdb.New() // empty: nothing will match
	s := NewSession(db)
	fa := faketest.New()
	fa.JEDEC = [3]byte{0x11, 0x22, 0x33}
	if err := s.Connect(context.Background(), fa, ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{})
	if progctl.KindOf(err) != progctl.KindUnknownChip {
		t.Fatalf("Detect() err kind = %v, want UnknownChip", progctl.KindOf(err))
	}
	var perr *progctl.Error
	if e, ok := err.(*progctl.Error); ok {
		perr = e
	}
	if perr == nil || perr.MemoryID == nil {
		t.Fatalf("UnknownChip error should still carry the raw memory id for display")
	}
}

// S1 + Detect binding
func TestDetectBindsKnownChip(t *testing.T) {
	s, _ := newConnectedSession(t)
	desc, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if desc.Name != "W25Q32" {
		t.Fatalf("Detect() = %+v", desc)
	}
}

// S2-flavored: program_and_verify end to end
func TestProgramAndVerify(t *testing.T) {
	s, _ := newConnectedSession(t)
	if _, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	data := bytes.Repeat([]byte{0xAA}, 8192) // spans 2 sectors
	var events []progctl.ProgressInfo
	s.engine.Progress().OnProgress(func(p progctl.ProgressInfo) { events = append(events, p) })

	if err := s.ProgramAndVerify(context.Background(), 0, data); err != nil {
		t.Fatalf("ProgramAndVerify: %v", err)
	}
	got, err := s.ReadMemory(context.Background(), 0, uint32(len(data)))
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("program_and_verify round trip mismatch")
	}
	if len(events) < 3 {
		t.Fatalf("expected at least 3 banded progress events, got %d", len(events))
	}
}

// S4-flavored: cancellation mid-operation
func TestCancelDuringReadYieldsCancelled(t *testing.T) {
	s, _ := newConnectedSession(t)
	if _, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	chunks := 0
	s.engine.Progress().OnProgress(func(p progctl.ProgressInfo) {
		chunks++
		if chunks == 2 {
			cancel()
		}
	})

	_, err := s.ReadMemory(ctx, 0, 8*64*1024) // 8 chunks of 64KiB
	if progctl.KindOf(err) != progctl.KindCancelled {
		t.Fatalf("ReadMemory() err kind = %v, want Cancelled", progctl.KindOf(err))
	}

	// The adapter must remain usable for the next operation.
	if _, err := s.ReadMemory(context.Background(), 0, 16); err != nil {
		t.Fatalf("ReadMemory after cancellation: %v", err)
	}
}

func TestBusyWhileRunning(t *testing.T) {
	s, _ := newConnectedSession(t)
	if _, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	opCtx, finish, err := s.beginOp(context.Background())
	if err != nil {
		t.Fatalf("beginOp: %v", err)
	}
	defer finish(nil)
	_ = opCtx

	_, err = s.ReadMemory(context.Background(), 0, 16)
	if progctl.KindOf(err) != progctl.KindBusy {
		t.Fatalf("ReadMemory() while running err kind = %v, want Busy", progctl.KindOf(err))
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	s, _ := newConnectedSession(t)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestEraseRangeRoundsToSectorBoundaries(t *testing.T) {
	s, _ := newConnectedSession(t)
	if _, err := s.Detect(context.Background(), chipdb.ProtocolSPI, chipdb.Descriptor{}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	start, length, err := s.Erase(context.Background(), EraseRange, 100, 10)
	if err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if start != 0 || length != 4096 {
		t.Fatalf("Erase(range) effective = (%d,%d), want rounded to one sector", start, length)
	}
}
