package hal

import (
	"context"
	"fmt"
	"sync"

	"gobot.io/x/gobot/sysfs"
)

type sysfsPin struct {
	pin    sysfs.DigitalPinner
	output bool
}

// SysfsGpio drives legacy /sys/class/gpio lines. pins maps a board pin
// number onto the kernel GPIO number.
type SysfsGpio struct {
	mx   sync.Mutex
	pins map[uint8]int
	open map[uint8]*sysfsPin
}

func NewSysfsGpio(pins map[uint8]int) *SysfsGpio {
	return &SysfsGpio{pins: pins, open: make(map[uint8]*sysfsPin)}
}

func (my *SysfsGpio) get(pin uint8, output bool) (*sysfsPin, error) {
	if p, ok := my.open[pin]; ok {
		if output && !p.output {
			if err := p.pin.Direction(sysfs.OUT); err != nil {
				return nil, err
			}
			p.output = true
		}
		return p, nil
	}
	num, ok := my.pins[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, ErrUnknownPin)
	}
	dp := sysfs.NewDigitalPin(num)
	if err := dp.Export(); err != nil {
		return nil, fmt.Errorf("export gpio %d: %w", num, err)
	}
	dir := sysfs.IN
	if output {
		dir = sysfs.OUT
	}
	if err := dp.Direction(dir); err != nil {
		_ = dp.Unexport()
		return nil, fmt.Errorf("gpio %d direction: %w", num, err)
	}
	p := &sysfsPin{pin: dp, output: output}
	my.open[pin] = p
	return p, nil
}

func (my *SysfsGpio) SetLevel(ctx context.Context, pin uint8, level bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	my.mx.Lock()
	defer my.mx.Unlock()

	p, err := my.get(pin, true)
	if err != nil {
		return err
	}
	v := sysfs.LOW
	if level {
		v = sysfs.HIGH
	}
	return p.pin.Write(v)
}

func (my *SysfsGpio) Level(ctx context.Context, pin uint8) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	my.mx.Lock()
	defer my.mx.Unlock()

	p, err := my.get(pin, false)
	if err != nil {
		return false, err
	}
	v, err := p.pin.Read()
	return v == sysfs.HIGH, err
}

// Close unexports every line this instance exported.
func (my *SysfsGpio) Close() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	var first error
	for k, p := range my.open {
		if err := p.pin.Unexport(); err != nil && first == nil {
			first = err
		}
		delete(my.open, k)
	}
	return first
}
