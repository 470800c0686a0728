package sensor

import (
	"sync"
	"time"
)

// pulseCounter turns edge counts into RPM between successive reads.
type pulseCounter struct {
	mx           sync.Mutex
	pulses       uint64
	lastPulses   uint64
	lastRead     time.Time
	pulsesPerRev int
	rpm          float64
}

func (my *pulseCounter) pulse() {
	my.mx.Lock()
	my.pulses++
	my.mx.Unlock()
}

func (my *pulseCounter) rpmAt(now time.Time) float64 {
	my.mx.Lock()
	defer my.mx.Unlock()

	if my.lastRead.IsZero() {
		my.lastRead = now
		my.lastPulses = my.pulses
		return 0
	}
	dt := now.Sub(my.lastRead)
	// too short to say anything new
	if dt < 100*time.Millisecond {
		return my.rpm
	}
	revs := float64(my.pulses-my.lastPulses) / float64(my.pulsesPerRev)
	my.rpm = revs / dt.Minutes()
	my.lastRead = now
	my.lastPulses = my.pulses
	return my.rpm
}
