// Package hal holds the capability interfaces peripheral drivers are written
// against, with adapters onto the control channel and native Linux buses.
package hal

import (
	"context"
	"errors"
)

var (
	ErrUnsupported = errors.New("ErrUnsupported")
	ErrUnknownPin  = errors.New("ErrUnknownPin")
)

type I2c interface {
	// Transfer writes w to the 7-bit addr, then reads readLen bytes.
	Transfer(ctx context.Context, addr uint8, w []byte, readLen int) ([]byte, error)
}

type Gpio interface {
	SetLevel(ctx context.Context, pin uint8, level bool) error
	Level(ctx context.Context, pin uint8) (bool, error)
}

type Adc interface {
	ReadMillivolts(ctx context.Context, channel uint8) (uint16, error)
}

// Set bundles what one board exposes. Any member may be nil.
type Set struct {
	I2c  I2c
	Gpio Gpio
	Adc  Adc
}

// ReadReg is the common write-register-then-read shape.
func ReadReg(ctx context.Context, bus I2c, addr, reg uint8, n int) ([]byte, error) {
	return bus.Transfer(ctx, addr, []byte{reg}, n)
}

func WriteReg(ctx context.Context, bus I2c, addr, reg uint8, data ...byte) error {
	_, err := bus.Transfer(ctx, addr, append([]byte{reg}, data...), 0)
	return err
}
