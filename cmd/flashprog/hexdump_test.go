package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"
)

func TestHexDumpFormat(t *testing.T) {
	data := append([]byte("flashprog test!!"), 0x00, 0x01)
	var buf bytes.Buffer
	hexDump(&buf, 0, data)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "0000: ") {
		t.Fatalf("line 0 address prefix = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0010: ") {
		t.Fatalf("line 1 address prefix = %q", lines[1])
	}
	if !strings.HasSuffix(lines[0], "flashprog test!!") {
		t.Fatalf("line 0 ascii tail = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "..") {
		t.Fatalf("line 1 non-printable fallback = %q", lines[1])
	}
}

func TestHexDumpBaseAddrOffset(t *testing.T) {
	var buf bytes.Buffer
	hexDump(&buf, 0x1000, []byte{0xAA})
	if !strings.HasPrefix(buf.String(), "1000: ") {
		t.Fatalf("base address not honored: %q", buf.String())
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	c, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if c.adapterKind != "ftdi" {
		t.Fatalf("default adapter = %q, want ftdi", c.adapterKind)
	}
	if c.op != "detect" {
		t.Fatalf("default op = %q, want detect", c.op)
	}
}

func TestEraseKindFromString(t *testing.T) {
	if _, err := eraseKindFromString("bogus"); err == nil {
		t.Fatalf("expected error for unknown erase kind")
	}
}
