// Package sensor holds the peripheral drivers a board reads for diagnostics.
// They only talk to hal interfaces.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"asic_miner/device/hal"
)

var ErrWrongDevice = errors.New("ErrWrongDevice")

const (
	EMC2101Addr = 0x4c

	emcRegInternalTemp = 0x00
	emcRegExtTempHigh  = 0x01
	emcRegConfig       = 0x03
	emcRegExtTempLow   = 0x10
	emcRegTachLow      = 0x46
	emcRegTachHigh     = 0x47
	emcRegFanConfig    = 0x4a
	emcRegFanSetting   = 0x4c
	emcRegProductID    = 0xfd

	emcProductID  = 0x16
	emcProductIDR = 0x28

	emcFanMax      = 63
	emcTachStopped = 0xffff
	emcTachScale   = 5400000
)

// EMC2101 is the fan controller with an external diode input wired to the ASIC.
type EMC2101 struct {
	bus  hal.I2c
	addr uint8
}

func NewEMC2101(bus hal.I2c, addr uint8) *EMC2101 {
	return &EMC2101{bus: bus, addr: addr}
}

// Init checks the product id and switches the fan output to direct PWM.
func (my *EMC2101) Init(ctx context.Context) error {
	id, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegProductID, 1)
	if err != nil {
		return err
	}
	if id[0] != emcProductID && id[0] != emcProductIDR {
		return fmt.Errorf("emc2101 at 0x%02x: product id 0x%02x: %w", my.addr, id[0], ErrWrongDevice)
	}
	// enable tach input, PWM mode, no lookup table
	if err := hal.WriteReg(ctx, my.bus, my.addr, emcRegConfig, 0x04); err != nil {
		return err
	}
	return hal.WriteReg(ctx, my.bus, my.addr, emcRegFanConfig, 0x23)
}

// ExternalTemp is the diode temperature in Celsius with 0.125 resolution.
func (my *EMC2101) ExternalTemp(ctx context.Context) (float64, error) {
	hi, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegExtTempHigh, 1)
	if err != nil {
		return 0, err
	}
	lo, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegExtTempLow, 1)
	if err != nil {
		return 0, err
	}
	return float64(int8(hi[0])) + float64(lo[0]>>5)*0.125, nil
}

func (my *EMC2101) InternalTemp(ctx context.Context) (float64, error) {
	b, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegInternalTemp, 1)
	if err != nil {
		return 0, err
	}
	return float64(int8(b[0])), nil
}

// SetFanDuty takes a percentage, clamped to 0..100.
func (my *EMC2101) SetFanDuty(ctx context.Context, pct float64) error {
	pct = math.Max(0, math.Min(100, pct))
	return hal.WriteReg(ctx, my.bus, my.addr, emcRegFanSetting, uint8(math.Round(pct*emcFanMax/100)))
}

func (my *EMC2101) FanDuty(ctx context.Context) (float64, error) {
	b, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegFanSetting, 1)
	if err != nil {
		return 0, err
	}
	return float64(b[0]&0x3f) * 100 / emcFanMax, nil
}

// FanRPM reads the tach count, low byte first so the high byte is latched.
func (my *EMC2101) FanRPM(ctx context.Context) (float64, error) {
	lo, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegTachLow, 1)
	if err != nil {
		return 0, err
	}
	hi, err := hal.ReadReg(ctx, my.bus, my.addr, emcRegTachHigh, 1)
	if err != nil {
		return 0, err
	}
	count := uint16(hi[0])<<8 | uint16(lo[0])
	if count == 0 || count == emcTachStopped {
		return 0, nil
	}
	return float64(emcTachScale) / float64(count), nil
}
