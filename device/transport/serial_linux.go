//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"asic_miner/device/hwerr"
)

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
}

const writeTimeout = time.Second

// serialPort holds mx for reading across every Read and Write, so Close
// waits for calls in flight and the fd number is never reused under them.
type serialPort struct {
	name string
	mx   sync.RWMutex
	fd   int
}

// OpenSerial opens a tty in raw 8N1 mode and takes exclusive ownership of it
// until Close.
func OpenSerial(d Descriptor) (Port, error) {
	speed, ok := baudRates[d.Baud]
	if !ok {
		return nil, hwerr.Invalid("baud", d.Baud, "unsupported rate")
	}

	fd, err := unix.Open(d.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &hwerr.IoError{Op: "open", Path: d.Path, Err: err}
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		return nil, &hwerr.IoError{Op: "lock", Path: d.Path, Err: err}
	}
	if err := makeRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, &hwerr.IoError{Op: "termios", Path: d.Path, Err: err}
	}
	// drop anything the device sent before we owned it
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	return &serialPort{name: d.Path, fd: fd}, nil
}

func makeRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func (my *serialPort) Name() string { return my.name }

// acquire returns the fd with mx read-locked. Call release when done.
func (my *serialPort) acquire() (int, error) {
	my.mx.RLock()
	if my.fd < 0 {
		my.mx.RUnlock()
		return -1, fmt.Errorf("%s: %w", my.name, hwerr.ErrClosed)
	}
	return my.fd, nil
}

func (my *serialPort) release() { my.mx.RUnlock() }

func poll(fd int, events int16, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	pollfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(pollfd, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n > 0 && pollfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, unix.EIO
		}
		return n > 0 && pollfd[0].Revents&events != 0, nil
	}
}

func (my *serialPort) Read(buf []byte, timeout time.Duration) (int, error) {
	fd, err := my.acquire()
	if err != nil {
		return 0, err
	}
	defer my.release()
	ready, err := poll(fd, unix.POLLIN, timeout)
	if err != nil {
		return 0, &hwerr.IoError{Op: "poll", Path: my.name, Err: err}
	}
	if !ready {
		return 0, hwerr.Timeout("read "+my.name, timeout)
	}
	n, err := unix.Read(fd, buf)
	if errors.Is(err, unix.EAGAIN) {
		return 0, hwerr.Timeout("read "+my.name, timeout)
	}
	if err != nil {
		return 0, &hwerr.IoError{Op: "read", Path: my.name, Err: err}
	}
	if n == 0 {
		// readable with no data means the device went away
		return 0, &hwerr.IoError{Op: "read", Path: my.name, Err: unix.ENODEV}
	}
	return n, nil
}

func (my *serialPort) Write(p []byte) (int, error) {
	fd, err := my.acquire()
	if err != nil {
		return 0, err
	}
	defer my.release()
	written := 0
	retry := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if n > 0 {
			written += n
		}
		if errors.Is(err, unix.EAGAIN) {
			retry++
			if retry > 3 {
				return written, hwerr.Timeout("write "+my.name, writeTimeout)
			}
			if _, err := poll(fd, unix.POLLOUT, writeTimeout); err != nil {
				return written, &hwerr.IoError{Op: "poll", Path: my.name, Err: err}
			}
			continue
		}
		if err != nil {
			return written, &hwerr.IoError{Op: "write", Path: my.name, Err: err}
		}
	}
	return written, nil
}

func (my *serialPort) Close() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	if my.fd < 0 {
		return nil
	}
	_ = unix.IoctlSetInt(my.fd, unix.TIOCNXCL, 0)
	err := unix.Close(my.fd)
	my.fd = -1
	if err != nil {
		return &hwerr.IoError{Op: "close", Path: my.name, Err: err}
	}
	return nil
}
