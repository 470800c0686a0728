//go:build linux

package hal

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/gpiod"
)

// CdevGpio drives lines of one gpiochip through the character device.
type CdevGpio struct {
	mx    sync.Mutex
	chip  string
	lines map[uint8]*gpiod.Line
	out   map[uint8]bool
}

func NewCdevGpio(chip string) *CdevGpio {
	return &CdevGpio{chip: chip, lines: make(map[uint8]*gpiod.Line), out: make(map[uint8]bool)}
}

func (my *CdevGpio) SetLevel(ctx context.Context, pin uint8, level bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	my.mx.Lock()
	defer my.mx.Unlock()

	v := 0
	if level {
		v = 1
	}
	l, ok := my.lines[pin]
	if !ok {
		var err error
		l, err = gpiod.RequestLine(my.chip, int(pin), gpiod.AsOutput(v), gpiod.WithConsumer("asic_miner"))
		if err != nil {
			return fmt.Errorf("%s line %d: %w", my.chip, pin, err)
		}
		my.lines[pin] = l
		my.out[pin] = true
		return nil
	}
	if !my.out[pin] {
		if err := l.Reconfigure(gpiod.AsOutput(v)); err != nil {
			return err
		}
		my.out[pin] = true
		return nil
	}
	return l.SetValue(v)
}

func (my *CdevGpio) Level(ctx context.Context, pin uint8) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	my.mx.Lock()
	defer my.mx.Unlock()

	l, ok := my.lines[pin]
	if !ok {
		var err error
		l, err = gpiod.RequestLine(my.chip, int(pin), gpiod.AsInput, gpiod.WithConsumer("asic_miner"))
		if err != nil {
			return false, fmt.Errorf("%s line %d: %w", my.chip, pin, err)
		}
		my.lines[pin] = l
	}
	v, err := l.Value()
	return v != 0, err
}

func (my *CdevGpio) Close() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	var first error
	for k, l := range my.lines {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
		delete(my.lines, k)
		delete(my.out, k)
	}
	return first
}
