package faketest

import "context"

func (a *Adapter) SPIInit() error   { return nil }
func (a *Adapter) SPIDeinit() error { return nil }

// SPITransfer interprets the handful of SPI NOR opcodes spiengine issues,
// modeling WREN/WEL, page program (AND-in-place, page-boundary agnostic —
// spiengine itself is responsible for rejecting crossings before this is
// ever called), sector/block/chip erase (set to 0xFF), and status polling.
// Busy never latches: the fake completes every erase/program synchronously,
// so wait_not_busy observes BUSY=0 on its very first poll.
func (a *Adapter) SPITransfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(write) == 0 {
		return make([]byte, readLen), nil
	}
	op := write[0]
	switch op {
	case opRDID:
		out := make([]byte, readLen)
		copy(out, a.JEDEC[:])
		return out, nil
	case opWREN:
		a.wel = true
		return nil, nil
	case opWRDI:
		a.wel = false
		return nil, nil
	case opRDSR:
		out := make([]byte, readLen)
		// bit0 BUSY always clear; bit1 WEL mirrors wel.
		if a.wel {
			out[0] = 0x02
		}
		return out, nil
	case opREAD, opFREAD:
		addr, rest := a.splitAddr(write[1:])
		_ = rest
		out := make([]byte, readLen)
		copy(out, a.readSPI(addr, readLen))
		return out, nil
	case opPP:
		addr, data := a.splitAddr(write[1:])
		a.writeSPI(addr, data)
		a.wel = false
		return nil, nil
	case opSE:
		addr, _ := a.splitAddr(write[1:])
		a.eraseSPI(addr-(addr%uint32(a.SectorSize)), a.SectorSize)
		a.wel = false
		return nil, nil
	case opBE:
		addr, _ := a.splitAddr(write[1:])
		blockSize := a.SectorSize * 16
		a.eraseSPI(addr-(addr%uint32(blockSize)), blockSize)
		a.wel = false
		return nil, nil
	case opCE:
		for i := range a.SPIMem {
			a.SPIMem[i] = 0xFF
		}
		a.wel = false
		return nil, nil
	default:
		return make([]byte, readLen), nil
	}
}

func (a *Adapter) splitAddr(b []byte) (uint32, []byte) {
	n := a.AddressBytes
	if len(b) < n {
		return 0, nil
	}
	var addr uint32
	for i := 0; i < n; i++ {
		addr = addr<<8 | uint32(b[i])
	}
	return addr, b[n:]
}

func (a *Adapter) readSPI(addr uint32, length int) []byte {
	if int(addr) >= len(a.SPIMem) {
		return make([]byte, length)
	}
	end := int(addr) + length
	if end > len(a.SPIMem) {
		end = len(a.SPIMem)
	}
	out := make([]byte, length)
	copy(out, a.SPIMem[addr:end])
	return out
}

func (a *Adapter) writeSPI(addr uint32, data []byte) {
	for i, b := range data {
		idx := int(addr) + i
		if idx >= len(a.SPIMem) {
			return
		}
		a.SPIMem[idx] &= b
	}
}

func (a *Adapter) eraseSPI(addr uint32, size int) {
	end := int(addr) + size
	if end > len(a.SPIMem) {
		end = len(a.SPIMem)
	}
	for i := int(addr); i < end; i++ {
		a.SPIMem[i] = 0xFF
	}
}
