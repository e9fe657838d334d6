package adapter

import (
	"context"
	"fmt"
)

// MarshalAddress renders addr as addrBytes big-endian bytes, MSB first,
// matching distilled spec §4.1's "addresses are always shifted out
// big-endian MSB first" contract and testable property 6.
func MarshalAddress(addr uint32, addrBytes int) ([]byte, error) {
	if addrBytes < 1 || addrBytes > 4 {
		return nil, fmt.Errorf("adapter: unsupported address width %d", addrBytes)
	}
	out := make([]byte, addrBytes)
	for i := 0; i < addrBytes; i++ {
		shift := uint((addrBytes - 1 - i) * 8)
		out[i] = byte(addr >> shift)
	}
	return out, nil
}

// SPIReadWithAddress is the default helper distilled spec §4.1 describes:
// it marshals cmd+addr then performs a single SPITransfer, reading length
// bytes back. Backends may override it, but the SPI primitive alone is
// sufficient to implement it generically.
func SPIReadWithAddress(ctx context.Context, s SPI, cmd byte, addr uint32, addrBytes int, length int) ([]byte, error) {
	addrBuf, err := MarshalAddress(addr, addrBytes)
	if err != nil {
		return nil, err
	}
	write := make([]byte, 0, 1+len(addrBuf))
	write = append(write, cmd)
	write = append(write, addrBuf...)
	return s.SPITransfer(ctx, write, length)
}

// SPIWriteWithAddress is the write-side counterpart of SPIReadWithAddress.
func SPIWriteWithAddress(ctx context.Context, s SPI, cmd byte, addr uint32, addrBytes int, data []byte) error {
	addrBuf, err := MarshalAddress(addr, addrBytes)
	if err != nil {
		return err
	}
	write := make([]byte, 0, 1+len(addrBuf)+len(data))
	write = append(write, cmd)
	write = append(write, addrBuf...)
	write = append(write, data...)
	_, err = s.SPITransfer(ctx, write, 0)
	return err
}
