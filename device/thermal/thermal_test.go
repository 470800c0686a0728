package thermal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncedAlarm(t *testing.T) {
	a := NewDebouncedAlarm(30 * time.Second)
	t0 := time.Unix(0, 0)

	assert.Equal(t, AlarmIdle, a.CheckAt(false, t0))
	assert.Equal(t, AlarmPending, a.CheckAt(true, t0))
	assert.Equal(t, AlarmPending, a.CheckAt(true, t0.Add(29*time.Second)))
	assert.Equal(t, AlarmTriggered, a.CheckAt(true, t0.Add(30*time.Second)))
	assert.Equal(t, AlarmActive, a.CheckAt(true, t0.Add(31*time.Second)))
	assert.Equal(t, AlarmResolved, a.CheckAt(false, t0.Add(32*time.Second)))
	assert.Equal(t, AlarmIdle, a.CheckAt(false, t0.Add(33*time.Second)))
}

func TestDebouncedAlarmBlipRestartsTimer(t *testing.T) {
	a := NewDebouncedAlarm(30 * time.Second)
	t0 := time.Unix(0, 0)

	a.CheckAt(true, t0)
	assert.Equal(t, AlarmIdle, a.CheckAt(false, t0.Add(20*time.Second)))
	assert.Equal(t, AlarmPending, a.CheckAt(true, t0.Add(25*time.Second)))
	assert.Equal(t, AlarmPending, a.CheckAt(true, t0.Add(50*time.Second)))
	assert.Equal(t, AlarmTriggered, a.CheckAt(true, t0.Add(55*time.Second)))

	a.Reset()
	assert.Equal(t, AlarmPending, a.CheckAt(true, t0.Add(56*time.Second)))
}

func TestFanPID(t *testing.T) {
	pid := NewFanPID(1, 2, -10, 10)
	pid.Integral = 3
	assert.Equal(t, 11.0, pid.Update(5, time.Second, true))
	assert.Equal(t, 3.0, pid.Integral)

	pid = NewFanPID(1, 0, -10, 10)
	pid.Integral = 9
	pid.Update(5, time.Second, false)
	assert.Equal(t, 10.0, pid.Integral)

	pid.Integral = -9
	pid.Update(-5, time.Second, false)
	assert.Equal(t, -10.0, pid.Integral)

	pid.Reset()
	assert.Zero(t, pid.Integral)
}

func TestNextState(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		temp float64
		prev State
		want State
	}{
		{55, StateNormal, StateNormal},
		{56, StateNormal, StateCooling},
		{54, StateCooling, StateCooling},
		{53, StateCooling, StateNormal},
		{74, StateCooling, StateCooling},
		{75, StateCooling, StateThrottling},
		{73, StateThrottling, StateThrottling},
		{72, StateThrottling, StateCooling},
		{86, StateThrottling, StateCritical},
		{84, StateCritical, StateCritical},
		{83, StateCritical, StateThrottling},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextState(tt.temp, tt.prev, cfg), "%v from %v", tt.temp, tt.prev)
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter(3, 5)
	_, ok := f.Consider(101)
	assert.False(t, ok)
	_, ok = f.Consider(50)
	assert.True(t, ok)
	_, ok = f.Consider(56)
	assert.False(t, ok)
	_, ok = f.Consider(54)
	assert.True(t, ok)
}

func TestControllerOverheatFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 10 * time.Second
	c := NewController(cfg)
	t0 := time.Unix(0, 0)

	temps := []float64{60, 63, 66, 69, 72, 75, 78, 81, 84, 87, 88, 88}
	var last Decision
	for i, temp := range temps {
		d, ok := c.Update(temp, t0.Add(time.Duration(i)*5*time.Second))
		require.True(t, ok, "reading %v", temp)
		assert.GreaterOrEqual(t, d.FanPct, cfg.FanMinPct)
		assert.LessOrEqual(t, d.FanPct, cfg.FanMaxPct)
		last = d
	}
	assert.Equal(t, StateCritical, last.State)
	assert.Equal(t, 100.0, last.FanPct)
	assert.Equal(t, AlarmTriggered, last.Alarm)
}

func TestControllerRejectsGlitch(t *testing.T) {
	c := NewController(DefaultConfig())
	t0 := time.Unix(0, 0)
	_, ok := c.Update(50, t0)
	require.True(t, ok)
	d, ok := c.Update(99, t0.Add(5*time.Second))
	assert.False(t, ok)
	assert.Equal(t, StateNormal, d.State)
}
