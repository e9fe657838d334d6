package chipdb

import "testing"

func w25q32() Descriptor {
	return Descriptor{
		ID: "w25q32", Name: "W25Q32", Manufacturer: "Winbond", Protocol: ProtocolSPI,
		SizeBytes: 4 * 1024 * 1024, PageSize: 256, SectorSize: 4096, BlockSize: 65536,
		VoltageMV: 3300, MemoryID: MemoryId{0xEF, 0x4016}, AddressBytes: 3,
		Commands: defaultCommands,
		Timing:   Timing{PageProgramMs: 3, SectorEraseMs: 400, BlockEraseMs: 2000, ChipEraseMs: 20000},
	}
}

func TestS1Lookup(t *testing.T) {
	db := New()
	db.Upsert(w25q32())

	raw := []byte{0xEF, 0x40, 0x16}
	id, err := MemoryIdFromRaw(raw)
	if err != nil {
		t.Fatalf("MemoryIdFromRaw: %v", err)
	}
	d, ok := db.FindByMemoryID(id)
	if !ok {
		t.Fatalf("FindByMemoryID(%v) not found", id)
	}
	if d.Name != "W25Q32" {
		t.Fatalf("Name = %q, want W25Q32", d.Name)
	}
	if d.SizeKB() != 4096 {
		t.Fatalf("SizeKB() = %v, want 4096", d.SizeKB())
	}
	if got := d.SizeMB(); got < 3.999 || got > 4.001 {
		t.Fatalf("SizeMB() = %v, want ~4.00", got)
	}
	if d.PageCount() != 16384 {
		t.Fatalf("PageCount() = %v, want 16384", d.PageCount())
	}
}

func TestMemoryIdFromRawRejectsWrongLength(t *testing.T) {
	if _, err := MemoryIdFromRaw([]byte{0xEF, 0x40}); err == nil {
		t.Fatalf("expected error for 2-byte buffer")
	}
}

func TestBlankSentinel(t *testing.T) {
	blank := MemoryId{ManufacturerID: 0xFF, DeviceID: 0xFFFF}
	if !blank.IsBlank() {
		t.Fatalf("IsBlank() = false, want true")
	}
	db := New()
	db.Upsert(w25q32())
	if _, ok := db.FindByMemoryID(blank); ok {
		t.Fatalf("blank sentinel must never match a real descriptor")
	}
}

func TestFindByNameCaseInsensitive(t *testing.T) {
	db := New()
	db.Upsert(w25q32())
	got := db.FindByName("q32")
	if len(got) != 1 || got[0].ID != "w25q32" {
		t.Fatalf("FindByName(\"q32\") = %v", got)
	}
}

func TestUpsertPreservesOrderOnReplace(t *testing.T) {
	db := New()
	a := w25q32()
	b := a
	b.ID, b.Name = "b", "B"
	db.Upsert(a)
	db.Upsert(b)
	replaced := a
	replaced.Name = "W25Q32-rev2"
	db.Upsert(replaced)

	all := db.All()
	if len(all) != 2 || all[0].ID != "w25q32" || all[0].Name != "W25Q32-rev2" {
		t.Fatalf("All() = %+v, want position preserved on replace", all)
	}
}

func TestRemove(t *testing.T) {
	db := New()
	db.Upsert(w25q32())
	if !db.Remove("w25q32") {
		t.Fatalf("Remove() = false, want true")
	}
	if db.Remove("w25q32") {
		t.Fatalf("second Remove() = true, want false")
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := w25q32()
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	bad := d
	bad.PageSize = 7
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() with non-dividing page size = nil, want error")
	}
}

func TestRicherCommandSetWinsTie(t *testing.T) {
	db := New()
	sparse := Descriptor{ID: "sparse", Name: "Z", MemoryID: MemoryId{0x01, 0x0001}, SizeBytes: 1024, PageSize: 1, Commands: Commands{RDID: 0x9F}}
	rich := Descriptor{ID: "rich", Name: "A", MemoryID: MemoryId{0x01, 0x0001}, SizeBytes: 1024, PageSize: 1, Commands: defaultCommands}
	db.Upsert(sparse)
	db.Upsert(rich)
	got, ok := db.FindByMemoryID(MemoryId{0x01, 0x0001})
	if !ok || got.ID != "rich" {
		t.Fatalf("FindByMemoryID() = %+v, want richer descriptor 'rich'", got)
	}
}
