// Package transport moves raw bytes to and from a board. It knows nothing about
// the protocols running on top.
package transport

import (
	"errors"
	"time"
)

var (
	ErrUnsupportedPlatform = errors.New("ErrUnsupportedPlatform")
	ErrNoDataChannel       = errors.New("ErrNoDataChannel")
)

// Port is one exclusively owned byte stream.
// Read returns a hwerr.TimeoutError if nothing arrives within timeout;
// a zero timeout makes Read non-blocking.
type Port interface {
	Name() string
	Read(buf []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type Descriptor struct {
	Path string
	Baud int
}

func (d Descriptor) Empty() bool {
	return d.Path == ""
}

type Opener func(Descriptor) (Port, error)

// Drain discards whatever the port has buffered right now.
func Drain(p Port) int {
	buf := make([]byte, 256)
	total := 0
	for {
		n, err := p.Read(buf, 0)
		total += n
		if err != nil || n == 0 {
			return total
		}
	}
}
