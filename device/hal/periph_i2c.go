package hal

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphI2c is a native Linux I2C bus through periph.io.
type PeriphI2c struct {
	mx     sync.Mutex
	name   string
	bus    i2c.BusCloser
	UsePEC bool
}

// OpenPeriphI2c opens a bus by name, e.g. "/dev/i2c-1" or "1".
func OpenPeriphI2c(name string) (*PeriphI2c, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c %s: %w", name, err)
	}
	return &PeriphI2c{name: name, bus: bus}, nil
}

func (my *PeriphI2c) Transfer(ctx context.Context, addr uint8, w []byte, readLen int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	my.mx.Lock()
	defer my.mx.Unlock()

	d := &i2c.Dev{Addr: uint16(addr), Bus: my.bus}
	if readLen == 0 {
		out := w
		if my.UsePEC {
			pec, err := CalcPEC(addr, WRITE, w)
			if err != nil {
				return nil, err
			}
			out = append(append([]byte(nil), w...), pec)
		}
		return nil, d.Tx(out, nil)
	}

	n := readLen
	if my.UsePEC {
		n++
	}
	r := make([]byte, n)
	if err := d.Tx(w, r); err != nil {
		return nil, err
	}
	if my.UsePEC {
		if pec := readPEC(addr, w, r[:readLen]); pec != r[readLen] {
			return nil, fmt.Errorf("i2c %s addr 0x%02x: PEC mismatch: %02x != %02x", my.name, addr, r[readLen], pec)
		}
	}
	return r[:readLen], nil
}

func (my *PeriphI2c) Close() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.bus.Close()
}
