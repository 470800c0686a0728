package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"asic_miner/device/hwerr"
	"asic_miner/device/transport"
	"asic_miner/log"
)

const (
	DefaultTimeout = time.Second
	readSlice      = 50 * time.Millisecond
)

// Channel runs one request at a time over the control port.
type Channel struct {
	mx      sync.Mutex
	port    transport.Port
	codec   Codec
	seq     uint8
	rx      []byte
	buf     []byte
	Timeout time.Duration

	requests atomic.Uint64
	stale    atomic.Uint64
	log      *log.Logger
}

func NewChannel(port transport.Port, codec Codec) *Channel {
	if codec == nil {
		codec = RawCodec{}
	}
	return &Channel{
		port:    port,
		codec:   codec,
		buf:     make([]byte, MaxFrameLen),
		Timeout: DefaultTimeout,
		log:     log.With("port", port.Name()),
	}
}

// behind reports whether got belongs to a request issued before want.
func behind(got, want uint8) bool {
	d := want - got
	return d != 0 && d < 0x80
}

// Do sends req with the next sequence number and waits for its response.
// Responses to earlier requests that arrive late are dropped and counted.
func (my *Channel) Do(ctx context.Context, req Request) (Response, error) {
	my.mx.Lock()
	defer my.mx.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	req.Seq = my.seq
	my.seq++
	frame, err := my.codec.EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	my.requests.Add(1)
	if _, err := my.port.Write(frame); err != nil {
		return Response{}, err
	}

	deadline := time.Now().Add(my.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		for len(my.rx) > 0 {
			resp, n, err := my.codec.DecodeResponse(my.rx)
			if err != nil {
				my.rx = my.rx[:0]
				flushed := transport.Drain(my.port)
				my.log.Warnf("bad control frame for seq %d, flushed %d bytes: %v", req.Seq, flushed, err)
				return Response{}, err
			}
			if n == 0 {
				break
			}
			my.rx = my.rx[n:]

			switch {
			case resp.Seq == req.Seq:
				if resp.Page != req.Page {
					return resp, &hwerr.ProtocolError{Reason: "response page " + resp.Page.String() + " for " + req.Page.String()}
				}
				if resp.Status != StatusOK {
					return resp, &hwerr.ProtocolError{Reason: req.Page.String() + " command failed", Status: resp.Status}
				}
				return resp, nil
			case behind(resp.Seq, req.Seq):
				my.stale.Add(1)
				my.log.Debugf("dropped stale response seq %d (want %d)", resp.Seq, req.Seq)
			default:
				return resp, &hwerr.MismatchError{Want: req.Seq, Got: resp.Seq}
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if err := ctx.Err(); err != nil {
				return Response{}, err
			}
			return Response{}, hwerr.Timeout(req.Page.String()+" request", my.Timeout)
		}
		if remaining > readSlice {
			remaining = readSlice
		}
		n, err := my.port.Read(my.buf, remaining)
		if err != nil {
			if errors.Is(err, hwerr.ErrTimeout) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Response{}, ctxErr
				}
				continue
			}
			return Response{}, err
		}
		my.rx = append(my.rx, my.buf[:n]...)
	}
}

func (my *Channel) Requests() uint64 { return my.requests.Load() }

// StaleResponses counts late responses that were discarded.
func (my *Channel) StaleResponses() uint64 { return my.stale.Load() }

func (my *Channel) Name() string { return my.port.Name() }
