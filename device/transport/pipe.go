package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"asic_miner/device/hwerr"
)

type pipeEnd struct {
	name   string
	rx     *Queue
	tx     *Queue
	closed atomic.Bool
}

// Pipe returns two connected ports: bytes written to one are read from the other.
func Pipe(name string) (Port, Port) {
	ab, ba := NewQueue(), NewQueue()
	a := &pipeEnd{name: name + ".a", rx: ba, tx: ab}
	b := &pipeEnd{name: name + ".b", rx: ab, tx: ba}
	return a, b
}

func (my *pipeEnd) Name() string { return my.name }

func (my *pipeEnd) Read(buf []byte, timeout time.Duration) (int, error) {
	if my.closed.Load() {
		return 0, fmt.Errorf("%s: %w", my.name, hwerr.ErrClosed)
	}
	return my.rx.Read(my.name, buf, timeout)
}

func (my *pipeEnd) Write(p []byte) (int, error) {
	if my.closed.Load() {
		return 0, fmt.Errorf("%s: %w", my.name, hwerr.ErrClosed)
	}
	my.tx.Push(p)
	return len(p), nil
}

func (my *pipeEnd) Close() error {
	if my.closed.CompareAndSwap(false, true) {
		my.tx.Close()
		my.rx.Close()
	}
	return nil
}
