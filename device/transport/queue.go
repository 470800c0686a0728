package transport

import (
	"fmt"
	"sync"
	"time"

	"asic_miner/device/hwerr"
)

// Queue is an in-memory byte stream with timed reads. Writers never block.
type Queue struct {
	mx     sync.Mutex
	buf    []byte
	notify chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (my *Queue) Push(p []byte) {
	my.mx.Lock()
	if !my.closed {
		my.buf = append(my.buf, p...)
	}
	my.mx.Unlock()
	select {
	case my.notify <- struct{}{}:
	default:
	}
}

func (my *Queue) Len() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return len(my.buf)
}

func (my *Queue) Close() {
	my.mx.Lock()
	my.closed = true
	my.mx.Unlock()
	select {
	case my.notify <- struct{}{}:
	default:
	}
}

func (my *Queue) Read(name string, buf []byte, timeout time.Duration) (int, error) {
	var timer *time.Timer
	for {
		my.mx.Lock()
		if len(my.buf) > 0 {
			n := copy(buf, my.buf)
			my.buf = my.buf[n:]
			my.mx.Unlock()
			return n, nil
		}
		closed := my.closed
		my.mx.Unlock()

		if closed {
			return 0, fmt.Errorf("%s: %w", name, hwerr.ErrClosed)
		}
		if timeout <= 0 {
			return 0, hwerr.Timeout("read "+name, timeout)
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-my.notify:
		case <-timer.C:
			return 0, hwerr.Timeout("read "+name, timeout)
		}
	}
}
