package chipdb

import (
	"strings"
	"sync"
)

// Database is an ordered mapping id -> Descriptor: unique keys, insertion
// order preserved for listing, read-mostly with upserts taking an
// exclusive logical lock (distilled spec §5 "Shared resources").
type Database struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Descriptor
}

// New returns an empty Database.
func New() *Database {
	return &Database{byID: make(map[string]Descriptor)}
}

// Upsert inserts d or replaces the existing entry with the same ID,
// preserving its original position on replace.
func (db *Database) Upsert(d Descriptor) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.byID[d.ID]; !exists {
		db.order = append(db.order, d.ID)
	}
	db.byID[d.ID] = d
}

// Remove deletes the descriptor with the given id, reporting whether a
// deletion occurred.
func (db *Database) Remove(id string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.byID[id]; !exists {
		return false
	}
	delete(db.byID, id)
	for i, v := range db.order {
		if v == id {
			db.order = append(db.order[:i], db.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns every descriptor in insertion order.
func (db *Database) All() []Descriptor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Descriptor, 0, len(db.order))
	for _, id := range db.order {
		out = append(out, db.byID[id])
	}
	return out
}

// FindByID returns the descriptor with the exact id, if any.
func (db *Database) FindByID(id string) (Descriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.byID[id]
	return d, ok
}

// FindByMemoryID returns the descriptor whose MemoryID matches exactly. If
// more than one descriptor shares the id, the one with the richest command
// set (most non-zero opcodes configured) wins, tie-broken alphabetically
// by Name, per distilled spec §4.5.
func (db *Database) FindByMemoryID(id MemoryId) (Descriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var best Descriptor
	found := false
	for _, d := range db.byID {
		if d.MemoryID != id {
			continue
		}
		if !found || richer(d, best) {
			best, found = d, true
		}
	}
	return best, found
}

func richer(a, b Descriptor) bool {
	ca, cb := commandCount(a.Commands), commandCount(b.Commands)
	if ca != cb {
		return ca > cb
	}
	return a.Name < b.Name
}

func commandCount(c Commands) int {
	n := 0
	for _, v := range []byte{c.RDID, c.READ, c.FastRead, c.PP, c.SE, c.BE, c.CE, c.RDSR, c.WREN, c.WRDI} {
		if v != 0 {
			n++
		}
	}
	return n
}

// FindByName returns every descriptor whose Name contains pattern,
// case-insensitively, in insertion order.
func (db *Database) FindByName(pattern string) []Descriptor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	pattern = strings.ToLower(pattern)
	out := make([]Descriptor, 0)
	for _, id := range db.order {
		d := db.byID[id]
		if strings.Contains(strings.ToLower(d.Name), pattern) {
			out = append(out, d)
		}
	}
	return out
}

// FindByManufacturer returns every descriptor for the given manufacturer,
// in insertion order.
func (db *Database) FindByManufacturer(manufacturer string) []Descriptor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Descriptor, 0)
	for _, id := range db.order {
		d := db.byID[id]
		if d.Manufacturer == manufacturer {
			out = append(out, d)
		}
	}
	return out
}
