package thermal

import (
	"math"
	"time"
)

// FanPID is a PI controller on temperature error. The integral is clamped
// and may be frozen per update.
type FanPID struct {
	Kp          float64
	Ki          float64
	Integral    float64
	IntegralMin float64
	IntegralMax float64
}

func NewFanPID(kp, ki, imin, imax float64) *FanPID {
	return &FanPID{Kp: kp, Ki: ki, IntegralMin: imin, IntegralMax: imax}
}

func (my *FanPID) Update(err float64, dt time.Duration, freeze bool) float64 {
	if !freeze {
		my.Integral += err * dt.Seconds()
		my.Integral = math.Max(my.IntegralMin, math.Min(my.IntegralMax, my.Integral))
	}
	return my.Kp*err + my.Ki*my.Integral
}

func (my *FanPID) Reset() {
	my.Integral = 0
}
