package control

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"asic_miner/device/hwerr"
	"asic_miner/device/transport"
)

// I2CDevice is a register file behind an I2C address. A transfer writes
// [reg, data...] and reads sequentially from reg. Words holds PMBus style
// commands that carry a little endian word instead of two registers.
type I2CDevice struct {
	Regs  map[uint8]uint8
	Words map[uint8]uint16
}

func NewI2CDevice() *I2CDevice {
	return &I2CDevice{Regs: make(map[uint8]uint8), Words: make(map[uint8]uint16)}
}

// Simulator answers control frames the way the board firmware does.
type Simulator struct {
	mx      sync.Mutex
	name    string
	in      []byte
	out     *transport.Queue
	codec   RawCodec
	gpio    map[uint8]bool
	adc     map[uint8]uint16
	i2c     map[uint8]*I2CDevice
	silent  bool
	status  uint8
	closed  bool
	history []Request

	// OnGPIO observes every pin write.
	OnGPIO func(pin uint8, level bool)
}

func NewSimulator(name string) *Simulator {
	return &Simulator{
		name: name,
		out:  transport.NewQueue(),
		gpio: make(map[uint8]bool),
		adc:  make(map[uint8]uint16),
		i2c:  make(map[uint8]*I2CDevice),
	}
}

func (my *Simulator) Name() string { return my.name }

func (my *Simulator) SetADC(channel uint8, mv uint16) {
	my.mx.Lock()
	defer my.mx.Unlock()
	my.adc[channel] = mv
}

func (my *Simulator) GPIO(pin uint8) bool {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.gpio[pin]
}

// AddI2C places a device at addr and returns it for register setup.
func (my *Simulator) AddI2C(addr uint8) *I2CDevice {
	my.mx.Lock()
	defer my.mx.Unlock()
	d := NewI2CDevice()
	my.i2c[addr] = d
	return d
}

func (my *Simulator) SetReg(addr, reg, v uint8) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if d, ok := my.i2c[addr]; ok {
		d.Regs[reg] = v
	}
}

func (my *Simulator) Reg(addr, reg uint8) uint8 {
	my.mx.Lock()
	defer my.mx.Unlock()
	if d, ok := my.i2c[addr]; ok {
		return d.Regs[reg]
	}
	return 0
}

// SetSilent stops (or resumes) all responses.
func (my *Simulator) SetSilent(silent bool) {
	my.mx.Lock()
	defer my.mx.Unlock()
	my.silent = silent
}

// FailNext answers the next request with status.
func (my *Simulator) FailNext(status uint8) {
	my.mx.Lock()
	defer my.mx.Unlock()
	my.status = status
}

// Inject queues raw bytes for the host to read.
func (my *Simulator) Inject(p []byte) {
	my.out.Push(p)
}

func (my *Simulator) History() []Request {
	my.mx.Lock()
	defer my.mx.Unlock()
	return append([]Request(nil), my.history...)
}

func (my *Simulator) Read(buf []byte, timeout time.Duration) (int, error) {
	return my.out.Read(my.name, buf, timeout)
}

func (my *Simulator) Write(p []byte) (int, error) {
	my.mx.Lock()
	if my.closed {
		my.mx.Unlock()
		return 0, fmt.Errorf("%s: %w", my.name, hwerr.ErrClosed)
	}
	my.in = append(my.in, p...)
	var replies [][]byte
	var gpioEvents []Request
	for {
		req, n, err := my.codec.DecodeRequest(my.in)
		if err != nil {
			my.in = my.in[:0]
			break
		}
		if n == 0 {
			break
		}
		my.in = my.in[n:]
		my.history = append(my.history, req)
		resp := my.handle(req)
		if req.Page == PageGPIO && req.Cmd == CmdGPIOSet && resp.Status == StatusOK {
			gpioEvents = append(gpioEvents, req)
		}
		if my.silent {
			continue
		}
		if frame, err := my.codec.EncodeResponse(resp); err == nil {
			replies = append(replies, frame)
		}
	}
	hook := my.OnGPIO
	my.mx.Unlock()

	if hook != nil {
		for _, ev := range gpioEvents {
			hook(ev.Payload[0], ev.Payload[1] != 0)
		}
	}
	for _, r := range replies {
		my.out.Push(r)
	}
	return len(p), nil
}

func (my *Simulator) handle(req Request) Response {
	resp := Response{Page: req.Page, Seq: req.Seq}
	if my.status != StatusOK {
		resp.Status = my.status
		my.status = StatusOK
		return resp
	}

	switch req.Page {
	case PageGPIO:
		switch {
		case req.Cmd == CmdGPIOSet && len(req.Payload) == 2:
			my.gpio[req.Payload[0]] = req.Payload[1] != 0
		case req.Cmd == CmdGPIOGet && len(req.Payload) == 1:
			v := uint8(0)
			if my.gpio[req.Payload[0]] {
				v = 1
			}
			resp.Payload = []byte{v}
		default:
			resp.Status = StatusBadArg
		}
	case PageADC:
		if req.Cmd != CmdADCRead || len(req.Payload) != 1 {
			resp.Status = StatusBadArg
			break
		}
		resp.Payload = binary.LittleEndian.AppendUint16(nil, my.adc[req.Payload[0]])
	case PageI2C:
		if req.Cmd != CmdI2CTransfer || len(req.Payload) < 2 {
			resp.Status = StatusBadArg
			break
		}
		dev, ok := my.i2c[req.Payload[0]]
		if !ok {
			resp.Status = StatusI2CNack
			break
		}
		readLen := int(req.Payload[1])
		w := req.Payload[2:]
		if len(w) == 0 {
			if readLen > 0 {
				resp.Status = StatusBadArg
			}
			break
		}
		reg := w[0]
		if _, ok := dev.Words[reg]; ok {
			if len(w) == 3 {
				dev.Words[reg] = binary.LittleEndian.Uint16(w[1:])
			}
			le := binary.LittleEndian.AppendUint16(nil, dev.Words[reg])
			resp.Payload = append(resp.Payload, le[:min(readLen, 2)]...)
			break
		}
		for i, b := range w[1:] {
			dev.Regs[reg+uint8(i)] = b
		}
		for i := 0; i < readLen; i++ {
			resp.Payload = append(resp.Payload, dev.Regs[reg+uint8(i)])
		}
	default:
		resp.Status = StatusBadCmd
	}
	return resp
}

func (my *Simulator) Close() error {
	my.mx.Lock()
	my.closed = true
	my.mx.Unlock()
	my.out.Close()
	return nil
}

// Closed reports whether the host released the port.
func (my *Simulator) Closed() bool {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.closed
}
