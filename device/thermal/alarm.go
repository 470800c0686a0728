package thermal

import (
	"time"
)

type AlarmStatus int

const (
	AlarmIdle AlarmStatus = iota
	AlarmPending
	// AlarmTriggered is returned once per episode.
	AlarmTriggered
	AlarmActive
	// AlarmResolved is returned once when the condition clears after firing.
	AlarmResolved
)

func (s AlarmStatus) String() string {
	switch s {
	case AlarmIdle:
		return "idle"
	case AlarmPending:
		return "pending"
	case AlarmTriggered:
		return "triggered"
	case AlarmActive:
		return "active"
	case AlarmResolved:
		return "resolved"
	}
	return "unknown"
}

type alarmState int

const (
	alarmIdle alarmState = iota
	alarmTiming
	alarmFired
)

// DebouncedAlarm fires when a condition has held for at least Debounce.
type DebouncedAlarm struct {
	Debounce time.Duration
	state    alarmState
	since    time.Time
}

func NewDebouncedAlarm(debounce time.Duration) *DebouncedAlarm {
	return &DebouncedAlarm{Debounce: debounce}
}

func (my *DebouncedAlarm) Check(cond bool) AlarmStatus {
	return my.CheckAt(cond, time.Now())
}

func (my *DebouncedAlarm) CheckAt(cond bool, now time.Time) AlarmStatus {
	switch my.state {
	case alarmIdle:
		if !cond {
			return AlarmIdle
		}
		my.state, my.since = alarmTiming, now
		return AlarmPending
	case alarmTiming:
		if !cond {
			my.state = alarmIdle
			return AlarmIdle
		}
		if now.Sub(my.since) >= my.Debounce {
			my.state = alarmFired
			return AlarmTriggered
		}
		return AlarmPending
	default:
		if !cond {
			my.state = alarmIdle
			return AlarmResolved
		}
		return AlarmActive
	}
}

// Reset re-arms the alarm regardless of state.
func (my *DebouncedAlarm) Reset() {
	my.state = alarmIdle
}
