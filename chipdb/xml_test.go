package chipdb

import (
	"bytes"
	"strings"
	"testing"
)

const sampleXML = `<ChipDatabase>
  <Chip id="w25q32" name="W25Q32" manufacturer="Winbond" protocol="SPI"
        size="4194304" pageSize="256" sectorSize="4096" blockSize="65536"
        voltage="3300" manufacturerId="0xEF" deviceId="0x4016">
    <Commands rdid="0x9F" read="0x03" pp="0x02" se="0x20" be="0xD8" ce="0x60" rdsr="0x05" wren="0x06" wrdi="0x04"/>
    <Timing pageProgramMs="3" sectorEraseMs="400" blockEraseMs="2000" chipEraseMs="20000"/>
  </Chip>
  <Chip id="unknown-elem" name="Unk" manufacturer="X" protocol="SPI"
        size="1024" pageSize="1" sectorSize="0" blockSize="0" manufacturerId="0x01" deviceId="0x0002">
    <Bogus thing="ignored"/>
  </Chip>
</ChipDatabase>`

func TestLoad(t *testing.T) {
	db := New()
	if err := Load(strings.NewReader(sampleXML), db); err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok := db.FindByID("w25q32")
	if !ok {
		t.Fatalf("w25q32 not loaded")
	}
	if d.Commands.FastRead != 0x0B {
		t.Fatalf("missing command did not fall back to default: FastRead = %#x", d.Commands.FastRead)
	}
	if d.MemoryID.ManufacturerID != 0xEF || d.MemoryID.DeviceID != 0x4016 {
		t.Fatalf("MemoryID = %+v", d.MemoryID)
	}

	if _, ok := db.FindByID("unknown-elem"); !ok {
		t.Fatalf("chip with an unrecognized child element should still load")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := New()
	db.Upsert(w25q32())

	var buf bytes.Buffer
	if err := Save(&buf, db); err != nil {
		t.Fatalf("Save: %v", err)
	}

	db2 := New()
	if err := Load(&buf, db2); err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	got, ok := db2.FindByID("w25q32")
	if !ok {
		t.Fatalf("round-tripped descriptor missing")
	}
	if got.Name != "W25Q32" || got.SizeBytes != 4*1024*1024 || got.Commands.PP != 0x02 {
		t.Fatalf("round-tripped descriptor = %+v", got)
	}
}

func TestLoadRejectsInvalidGeometry(t *testing.T) {
	bad := `<ChipDatabase><Chip id="x" name="X" size="10" pageSize="3" manufacturerId="0x01" deviceId="0x01"/></ChipDatabase>`
	db := New()
	if err := Load(strings.NewReader(bad), db); err == nil {
		t.Fatalf("expected validation error for non-dividing page size")
	}
}
