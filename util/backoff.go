package util

import (
	"time"
)

// Backoff doubles its delay on every Next up to Max. Reset starts over from Initial.
// Attempts counts calls to Next since the last Reset.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current  time.Duration
	attempts int
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

func (my *Backoff) Next() time.Duration {
	my.attempts++
	if my.current == 0 {
		my.current = my.Initial
		return my.current
	}
	my.current *= 2
	if my.current > my.Max || my.current <= 0 {
		my.current = my.Max
	}
	return my.current
}

func (my *Backoff) Attempts() int {
	return my.attempts
}

func (my *Backoff) Reset() {
	my.current = 0
	my.attempts = 0
}
