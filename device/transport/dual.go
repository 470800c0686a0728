package transport

import (
	"sync"
)

// Dual is the pair of channels a board exposes. Control is nil for boards with
// a single data channel.
type Dual struct {
	Control Port
	Data    Port

	once sync.Once
	err  error
}

// OpenDual opens both channels or neither.
func OpenDual(control, data Descriptor) (*Dual, error) {
	return OpenDualWith(OpenSerial, control, data)
}

func OpenDualWith(open Opener, control, data Descriptor) (*Dual, error) {
	if data.Empty() {
		return nil, ErrNoDataChannel
	}
	d := &Dual{}
	if !control.Empty() {
		p, err := open(control)
		if err != nil {
			return nil, err
		}
		d.Control = p
	}
	p, err := open(data)
	if err != nil {
		if d.Control != nil {
			d.Control.Close()
		}
		return nil, err
	}
	d.Data = p
	return d, nil
}

// Close releases both channels once and reports the first error.
func (my *Dual) Close() error {
	my.once.Do(func() {
		if my.Data != nil {
			my.err = my.Data.Close()
		}
		if my.Control != nil {
			if err := my.Control.Close(); err != nil && my.err == nil {
				my.err = err
			}
		}
	})
	return my.err
}
