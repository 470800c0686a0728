//go:build !linux

package sensor

import (
	"asic_miner/device/hal"
)

type Tacho struct{}

func OpenTacho(chip string, offset int, pulsesPerRev int) (*Tacho, error) {
	return nil, hal.ErrUnsupported
}

func (my *Tacho) RPM() float64 { return 0 }
func (my *Tacho) Close() error { return nil }
