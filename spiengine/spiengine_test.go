package spiengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/flashprog/flashprog/adapter/faketest"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

func w25q32Desc() chipdb.Descriptor {
	return chipdb.Descriptor{
		ID: "w25q32", Name: "W25Q32", Protocol: chipdb.ProtocolSPI,
		SizeBytes: 4 * 1024 * 1024, PageSize: 256, SectorSize: 4096, BlockSize: 65536,
		MemoryID: chipdb.MemoryId{ManufacturerID: 0xEF, DeviceID: 0x4016}, AddressBytes: 3,
		Timing: chipdb.Timing{PageProgramMs: 3, SectorEraseMs: 400, BlockEraseMs: 2000, ChipEraseMs: 20000},
	}
}

func newEngine(t *testing.T) (*Engine, *faketest.Adapter) {
	t.Helper()
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(fa, w25q32Desc()), fa
}

// S1
func TestDetectS1(t *testing.T) {
	e, _ := newEngine(t)
	id, err := e.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if id.ManufacturerID != 0xEF || id.DeviceID != 0x4016 {
		t.Fatalf("Detect() = %+v", id)
	}
}

// Property 5
func TestPageProgramRejectsBoundaryCrossing(t *testing.T) {
	e, fa := newEngine(t)
	data := make([]byte, 10)
	before := append([]byte(nil), fa.SPIMem[250:260]...)
	err := e.PageProgram(context.Background(), 250, data) // 250..259 crosses 256
	if err == nil {
		t.Fatalf("expected InvalidArgument for boundary crossing")
	}
	after := fa.SPIMem[250:260]
	if !bytes.Equal(before, after) {
		t.Fatalf("page_program issued bus transactions despite rejection")
	}
}

// Property 1: round trip
func TestWriteReadRoundTrip(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	if err := e.EraseSector(ctx, 0); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	data := bytes.Repeat([]byte{0xAA}, 600) // spans multiple pages
	if err := e.Write(ctx, 0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := e.Read(ctx, 0, uint32(len(data)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
}

// Property 7 / S3
func TestBlankCheck(t *testing.T) {
	e, _ := newEngine(t)
	ok, err := e.BlankCheck(context.Background(), 0, 4096)
	if err != nil || !ok {
		t.Fatalf("BlankCheck() = %v, %v; want true, nil", ok, err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ok, err := e.Verify(ctx, 0, []byte{1, 2, 4})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("Verify() = true, want false on mismatch")
	}
}

func TestZeroLengthOpsAreNoopOk(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	var gotProgress bool
	e.Progress.OnProgress(func(p progctl.ProgressInfo) { gotProgress = true; _ = p })
	if err := e.Write(ctx, 0, nil); err != nil {
		t.Fatalf("Write(nil) = %v", err)
	}
	if !gotProgress {
		t.Fatalf("zero-length write did not emit a progress event")
	}
}

func TestWaitNotBusyCancellation(t *testing.T) {
	e, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.WaitNotBusy(ctx, 1000); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestDetectAllZeroReportsNotConnected(t *testing.T) {
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	fa.JEDEC = [3]byte{0, 0, 0}
	e := New(fa, w25q32Desc())
	_, err := e.Detect(context.Background())
	if err == nil {
		t.Fatalf("expected an error for an all-zero RDID response")
	}
	if progctl.KindOf(err) != progctl.KindNotConnected {
		t.Fatalf("Detect() kind = %v, want KindNotConnected", progctl.KindOf(err))
	}
}

func TestNewDefaultsToFourByteAddressingOverSizeThreshold(t *testing.T) {
	d := w25q32Desc()
	d.AddressBytes = 0
	d.SizeBytes = 32 * 1024 * 1024
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := New(fa, d)
	if e.AddressBytes() != 4 {
		t.Fatalf("AddressBytes() = %d, want 4 for a >16MiB chip with no explicit width", e.AddressBytes())
	}
}

func TestNewDefaultsToThreeByteAddressingUnderSizeThreshold(t *testing.T) {
	d := w25q32Desc()
	d.AddressBytes = 0
	d.SizeBytes = 4 * 1024 * 1024
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := New(fa, d)
	if e.AddressBytes() != 3 {
		t.Fatalf("AddressBytes() = %d, want 3 for a <=16MiB chip with no explicit width", e.AddressBytes())
	}
}
