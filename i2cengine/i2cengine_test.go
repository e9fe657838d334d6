package i2cengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/flashprog/flashprog/adapter/faketest"
	"github.com/flashprog/flashprog/chipdb"
)

func eeprom24LC256() chipdb.Descriptor {
	return chipdb.Descriptor{
		ID: "24lc256", Name: "24LC256", Protocol: chipdb.ProtocolI2C,
		SizeBytes: 256, PageSize: 64,
		Timing: chipdb.Timing{PageWriteMs: 10},
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	fa := faketest.New()
	if err := fa.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(fa, eeprom24LC256(), 0x50)
}

func TestRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte{0x42}, 100)
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

func TestEraseThenBlankCheck(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Erase(ctx, 0, 3); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	ok, err := e.BlankCheck(ctx, 0, 3)
	if err != nil || !ok {
		t.Fatalf("BlankCheck() = %v, %v", ok, err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, 0, []byte{9, 9, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ok, err := e.Verify(ctx, 0, []byte{9, 9, 8})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("Verify() = true, want false")
	}
}
