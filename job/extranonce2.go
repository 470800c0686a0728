package job

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrExtranonce2Size  = errors.New("ErrExtranonce2Size")
	ErrExtranonce2Value = errors.New("ErrExtranonce2Value")
)

// Extranonce2 is the miner controlled part of the coinbase, 1 to 8 bytes wide.
type Extranonce2 struct {
	value uint64
	size  int
}

func maxForSize(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func NewExtranonce2(size int, value uint64) (Extranonce2, error) {
	if size < 1 || size > 8 {
		return Extranonce2{}, fmt.Errorf("size %d: %w", size, ErrExtranonce2Size)
	}
	if value > maxForSize(size) {
		return Extranonce2{}, fmt.Errorf("value %d for size %d: %w", value, size, ErrExtranonce2Value)
	}
	return Extranonce2{value: value, size: size}, nil
}

func (e Extranonce2) Value() uint64 { return e.value }
func (e Extranonce2) Size() int     { return e.size }

// Next wraps to zero past the maximum for the size.
func (e Extranonce2) Next() Extranonce2 {
	if e.size == 0 {
		return e
	}
	if e.value == maxForSize(e.size) {
		return Extranonce2{value: 0, size: e.size}
	}
	return Extranonce2{value: e.value + 1, size: e.size}
}

// Bytes is the little-endian encoding, size bytes long.
func (e Extranonce2) Bytes() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], e.value)
	return append([]byte(nil), b[:e.size]...)
}

func (e Extranonce2) Hex() string {
	return hex.EncodeToString(e.Bytes())
}

func (e Extranonce2) String() string {
	return e.Hex()
}
