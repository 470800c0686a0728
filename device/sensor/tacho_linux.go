//go:build linux

package sensor

import (
	"time"

	"github.com/warthog618/gpiod"
)

// Tacho counts fan tachometer edges on a gpiochip line.
type Tacho struct {
	line *gpiod.Line
	pulseCounter
}

// OpenTacho watches offset on chip for rising edges. Most fans give two
// pulses per revolution.
func OpenTacho(chip string, offset int, pulsesPerRev int) (*Tacho, error) {
	if pulsesPerRev <= 0 {
		pulsesPerRev = 2
	}
	t := &Tacho{}
	t.pulsesPerRev = pulsesPerRev
	line, err := gpiod.RequestLine(chip, offset,
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(func(gpiod.LineEvent) { t.pulse() }),
		gpiod.WithConsumer("asic_miner-tacho"))
	if err != nil {
		return nil, err
	}
	t.line = line
	return t, nil
}

func (my *Tacho) RPM() float64 {
	return my.rpmAt(time.Now())
}

func (my *Tacho) Close() error {
	return my.line.Close()
}
