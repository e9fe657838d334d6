package mwengine

import (
	"context"
	"testing"

	"github.com/flashprog/flashprog/adapter/faketest"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/progctl"
)

func desc93C56() chipdb.Descriptor {
	return chipdb.Descriptor{ID: "93c56", Name: "93C56", Protocol: chipdb.ProtocolMicroWire, AddressBits: 8}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := New(context.Background(), fa, desc93C56())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestWriteReadWord(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.WriteWord(ctx, 0x10, 0xBEEF); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := e.ReadWord(ctx, 0x10)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xBEEF {
		t.Fatalf("ReadWord() = %#x, want 0xBEEF", got)
	}
}

// S5
func TestWriteWordRejectsOutOfRangeAddress(t *testing.T) {
	e := newEngine(t)
	err := e.WriteWord(context.Background(), 0x100, 0x1234)
	if progctl.KindOf(err) != progctl.KindInvalidArgument {
		t.Fatalf("WriteWord(0x100) err kind = %v, want InvalidArgument", progctl.KindOf(err))
	}
}

func TestReadBytesRejectsOddLength(t *testing.T) {
	e := newEngine(t)
	_, err := e.ReadBytes(context.Background(), 0, 3)
	if progctl.KindOf(err) != progctl.KindInvalidArgument {
		t.Fatalf("ReadBytes(odd) err kind = %v, want InvalidArgument", progctl.KindOf(err))
	}
}

func TestEraseAllThenReadAllBlank(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.WriteWord(ctx, 0, 0x1111); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := e.EraseAll(ctx); err != nil {
		t.Fatalf("EraseAll: %v", err)
	}
	got, err := e.ReadWord(ctx, 0)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xFFFF {
		t.Fatalf("ReadWord() after EraseAll = %#x, want 0xFFFF", got)
	}
}

func TestWriteAllProgress(t *testing.T) {
	e := newEngine(t)
	var last progctl.ProgressInfo
	e.Progress.OnProgress(func(p progctl.ProgressInfo) { last = p })
	if err := e.WriteAll(context.Background(), 0xAAAA); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if last.CurrentBytes != last.TotalBytes {
		t.Fatalf("final progress event not at 100%%: %+v", last)
	}
}
