package hal

import (
	"fmt"

	"asic_miner/device/control"
)

const (
	READ  = 0x01
	WRITE = 0x00
)

// CalcPEC is the SMBus packet error code over the address byte and data.
func CalcPEC(addr uint8, rdwr uint8, data []byte) (uint8, error) {
	if rdwr > READ {
		return 0, fmt.Errorf("invalid rdwr value: %d", rdwr)
	}
	if addr > 0x7f {
		return 0, fmt.Errorf("invalid address value: %d", addr)
	}
	return control.CRC8(append([]byte{addr<<1 | rdwr}, data...)), nil
}

// readPEC covers a combined transaction: addr+W, w, addr+R, r.
func readPEC(addr uint8, w, r []byte) uint8 {
	b := make([]byte, 0, len(w)+len(r)+2)
	b = append(b, addr<<1|WRITE)
	b = append(b, w...)
	b = append(b, addr<<1|READ)
	b = append(b, r...)
	return control.CRC8(b)
}
