// Package thermal turns board temperature readings into fan duty and an
// over-temperature verdict.
package thermal

import (
	"math"
	"time"
)

const (
	normalThresholdC = 55.0
	hysteresisC      = 2.0

	tempValidMin = -20.0
	tempValidMax = 100.0
)

type Config struct {
	TargetC   float64
	MaxC      float64
	Debounce  time.Duration
	FanMinPct float64
	FanMaxPct float64
	Kp        float64
	Ki        float64
}

func DefaultConfig() Config {
	return Config{
		TargetC:   74,
		MaxC:      85,
		Debounce:  30 * time.Second,
		FanMinPct: 20,
		FanMaxPct: 100,
		Kp:        5,
		Ki:        0.2,
	}
}

type State int

const (
	StateNormal State = iota
	StateCooling
	StateThrottling
	StateCritical
)

func (s State) String() string {
	return [...]string{"normal", "cooling", "throttling", "critical"}[s]
}

func (s State) baseFan() float64 {
	return [...]float64{30, 50, 80, 100}[s]
}

// NextState applies the thresholds with hysteresis on the way down.
func NextState(temp float64, prev State, cfg Config) State {
	switch prev {
	case StateNormal:
		if temp > normalThresholdC {
			return StateCooling
		}
	case StateCooling:
		if temp <= normalThresholdC-hysteresisC {
			return StateNormal
		}
		if temp > cfg.TargetC {
			return StateThrottling
		}
	case StateThrottling:
		if temp <= cfg.TargetC-hysteresisC {
			return StateCooling
		}
		if temp > cfg.MaxC {
			return StateCritical
		}
	case StateCritical:
		if temp <= cfg.MaxC-hysteresisC {
			return StateThrottling
		}
	}
	return prev
}

// Filter drops readings outside the sensor range or too far from the
// recent average.
type Filter struct {
	window       []float64
	size         int
	maxDeviation float64
}

func NewFilter(size int, maxDeviation float64) *Filter {
	return &Filter{size: size, maxDeviation: maxDeviation}
}

func (my *Filter) Consider(temp float64) (float64, bool) {
	if temp < tempValidMin || temp > tempValidMax || math.IsNaN(temp) {
		return 0, false
	}
	if len(my.window) > 0 {
		sum := 0.0
		for _, v := range my.window {
			sum += v
		}
		if math.Abs(temp-sum/float64(len(my.window))) > my.maxDeviation {
			return 0, false
		}
	}
	if len(my.window) == my.size {
		my.window = my.window[1:]
	}
	my.window = append(my.window, temp)
	return temp, true
}

type Decision struct {
	TempC   float64
	State   State
	FanPct  float64
	Alarm   AlarmStatus
	Changed bool
}

// Controller is not safe for concurrent use; the board calls it from its
// diagnostics path only.
type Controller struct {
	cfg      Config
	pid      *FanPID
	alarm    *DebouncedAlarm
	filter   *Filter
	state    State
	lastTick time.Time
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:    cfg,
		pid:    NewFanPID(cfg.Kp, cfg.Ki, -50, 50),
		alarm:  NewDebouncedAlarm(cfg.Debounce),
		filter: NewFilter(5, 10),
	}
}

func (my *Controller) State() State { return my.state }

// Update feeds one reading. A rejected reading keeps the last decision's
// state and does not move the alarm.
func (my *Controller) Update(temp float64, now time.Time) (Decision, bool) {
	if _, ok := my.filter.Consider(temp); !ok {
		return Decision{TempC: temp, State: my.state, Alarm: AlarmIdle}, false
	}

	dt := 5 * time.Second
	if !my.lastTick.IsZero() {
		dt = now.Sub(my.lastTick)
	}
	my.lastTick = now

	prev := my.state
	my.state = NextState(temp, prev, my.cfg)
	changed := prev != my.state

	freeze := my.state == StateNormal || my.state == StateCritical
	out := my.pid.Update(temp-my.cfg.TargetC, dt, freeze)
	if changed && my.state == StateNormal {
		my.pid.Reset()
	}
	fan := math.Max(my.cfg.FanMinPct, math.Min(my.cfg.FanMaxPct, my.state.baseFan()+out))

	return Decision{
		TempC:   temp,
		State:   my.state,
		FanPct:  fan,
		Alarm:   my.alarm.CheckAt(temp > my.cfg.MaxC, now),
		Changed: changed,
	}, true
}
