package sensor

import (
	"context"
	"encoding/binary"

	"asic_miner/device/hal"
)

const (
	TPS546Addr = 0x24

	pmbusVoutMode    = 0x20
	pmbusVoutCommand = 0x21
	pmbusReadVin     = 0x88
	pmbusReadVout    = 0x8b
	pmbusReadIout    = 0x8c
	pmbusReadTemp    = 0x8d
)

// TPS546 is the core voltage regulator, spoken to over PMBus.
type TPS546 struct {
	bus  hal.I2c
	addr uint8
	mode uint8
	init bool
}

func NewTPS546(bus hal.I2c, addr uint8) *TPS546 {
	return &TPS546{bus: bus, addr: addr}
}

func (my *TPS546) readWord(ctx context.Context, cmd uint8) (uint16, error) {
	b, err := hal.ReadReg(ctx, my.bus, my.addr, cmd, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (my *TPS546) voutMode(ctx context.Context) (uint8, error) {
	if my.init {
		return my.mode, nil
	}
	b, err := hal.ReadReg(ctx, my.bus, my.addr, pmbusVoutMode, 1)
	if err != nil {
		return 0, err
	}
	my.mode, my.init = b[0], true
	return my.mode, nil
}

func (my *TPS546) linear(ctx context.Context, cmd uint8) (float64, error) {
	raw, err := my.readWord(ctx, cmd)
	if err != nil {
		return 0, err
	}
	return DecodeLinear11(raw), nil
}

func (my *TPS546) Vin(ctx context.Context) (float64, error)         { return my.linear(ctx, pmbusReadVin) }
func (my *TPS546) Iout(ctx context.Context) (float64, error)        { return my.linear(ctx, pmbusReadIout) }
func (my *TPS546) Temperature(ctx context.Context) (float64, error) { return my.linear(ctx, pmbusReadTemp) }

func (my *TPS546) Vout(ctx context.Context) (float64, error) {
	mode, err := my.voutMode(ctx)
	if err != nil {
		return 0, err
	}
	raw, err := my.readWord(ctx, pmbusReadVout)
	if err != nil {
		return 0, err
	}
	return DecodeULinear16(raw, mode), nil
}

// Power is Vout * Iout in watts.
func (my *TPS546) Power(ctx context.Context) (float64, error) {
	v, err := my.Vout(ctx)
	if err != nil {
		return 0, err
	}
	i, err := my.Iout(ctx)
	if err != nil {
		return 0, err
	}
	return v * i, nil
}

func (my *TPS546) SetVout(ctx context.Context, volts float64) error {
	mode, err := my.voutMode(ctx)
	if err != nil {
		return err
	}
	raw := EncodeULinear16(volts, mode)
	return hal.WriteReg(ctx, my.bus, my.addr, pmbusVoutCommand, uint8(raw), uint8(raw>>8))
}
