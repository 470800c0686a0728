package hal

import (
	"context"

	"asic_miner/device/control"
)

// The control adapters forward each call to the channel unchanged.

type ControlI2c struct{ ch *control.Channel }
type ControlGpio struct{ ch *control.Channel }
type ControlAdc struct{ ch *control.Channel }

func NewControlI2c(ch *control.Channel) *ControlI2c   { return &ControlI2c{ch: ch} }
func NewControlGpio(ch *control.Channel) *ControlGpio { return &ControlGpio{ch: ch} }
func NewControlAdc(ch *control.Channel) *ControlAdc   { return &ControlAdc{ch: ch} }

// NewControlSet builds all three adapters over one channel.
func NewControlSet(ch *control.Channel) Set {
	return Set{I2c: NewControlI2c(ch), Gpio: NewControlGpio(ch), Adc: NewControlAdc(ch)}
}

func (my *ControlI2c) Transfer(ctx context.Context, addr uint8, w []byte, readLen int) ([]byte, error) {
	return my.ch.I2CTransfer(ctx, addr, w, readLen)
}

func (my *ControlGpio) SetLevel(ctx context.Context, pin uint8, level bool) error {
	return my.ch.SetGPIO(ctx, pin, level)
}

func (my *ControlGpio) Level(ctx context.Context, pin uint8) (bool, error) {
	return my.ch.GetGPIO(ctx, pin)
}

func (my *ControlAdc) ReadMillivolts(ctx context.Context, channel uint8) (uint16, error) {
	return my.ch.ReadADC(ctx, channel)
}
