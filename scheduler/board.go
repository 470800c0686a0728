package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"asic_miner/device/board"
	"asic_miner/device/hwerr"
	"asic_miner/job"
	"asic_miner/log"
	"asic_miner/util"
)

type channelKind int

const (
	chanData channelKind = iota
	chanControl
)

type opKind int

const (
	opSend opKind = iota
	opPoll
)

type request struct {
	op    opKind
	job   *job.Job
	reply chan result
}

type result struct {
	nonces []job.Nonce
	err    error
}

// slot is one board as the scheduler tracks it. The mining worker is the
// only goroutine touching the data channel, the supervisor the only one
// touching the control channel.
type slot struct {
	s       *Scheduler
	id      string
	factory Factory
	log     *log.Logger

	mx      sync.Mutex
	state   State
	board   Board
	errs    [2]int
	backoff *util.Backoff
	diag    board.Diagnostics
	// only a success on the channel that degraded the board brings it back
	degradedBy channelKind

	// dispatch goroutine only
	sentTrace uuid.UUID

	ctx    context.Context
	cancel context.CancelFunc
	reqs   chan request
	tasks  sync.WaitGroup
}

func newSlot(s *Scheduler, id string, f Factory) *slot {
	return &slot{
		s:       s,
		id:      id,
		factory: f,
		log:     log.With("board", id),
		state:   StateDiscovered,
		backoff: util.NewBackoff(s.cfg.BackoffInitial, s.cfg.BackoffMax),
		diag:    board.Diagnostics{BoardID: id},
		reqs:    make(chan request),
	}
}

func (my *slot) prepare(parent context.Context) {
	my.ctx, my.cancel = context.WithCancel(parent)
}

func (my *slot) State() State {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.state
}

func (my *slot) Diagnostics() board.Diagnostics {
	my.mx.Lock()
	defer my.mx.Unlock()
	d := my.diag
	d.Chips = append(d.Chips[:0:0], d.Chips...)
	if my.state == StateRemoved {
		d.Online = false
	}
	return d
}

func (my *slot) setState(to State) {
	my.mx.Lock()
	from := my.state
	if from == to || from == StateRemoved {
		my.mx.Unlock()
		return
	}
	my.state = to
	my.mx.Unlock()

	my.log.Infof("%v -> %v", from, to)
	if hook := my.s.OnTransition; hook != nil {
		hook(my.id, from, to)
	}
}

// remove stops the board for good. Its tasks end and lifecycle closes it.
func (my *slot) remove(err error) {
	if my.State() == StateRemoved {
		return
	}
	my.log.Errorf("removed: %v", err)
	my.setState(StateRemoved)
	my.mx.Lock()
	my.diag.Online = false
	my.mx.Unlock()
	my.cancel()
}

func (my *slot) lifecycle() {
	defer my.cancel()

	b, err := my.initialize()
	if err != nil {
		return
	}

	my.tasks.Add(2)
	go my.mine()
	go my.supervise()
	<-my.ctx.Done()
	my.tasks.Wait()

	if err := b.Close(); err != nil && !errors.Is(err, hwerr.ErrClosed) {
		my.log.Warnf("close: %v", err)
	}
	my.mx.Lock()
	my.diag.Online = false
	my.mx.Unlock()
	my.log.Debugf("closed")
}

// initialize calls the factory until it succeeds, hits a fatal error or runs
// out of attempts.
func (my *slot) initialize() (Board, error) {
	for {
		my.setState(StateInitializing)
		b, err := my.factory(my.ctx)
		if err == nil {
			my.mx.Lock()
			my.board = b
			my.errs = [2]int{}
			my.backoff.Reset()
			my.mx.Unlock()
			my.setState(StateActive)
			return b, nil
		}
		if my.ctx.Err() != nil {
			return nil, err
		}
		if hwerr.IsFatal(err) || hwerr.IsCallerError(err) {
			my.remove(err)
			return nil, err
		}

		my.mx.Lock()
		attempts := my.backoff.Attempts()
		my.mx.Unlock()
		if attempts >= my.s.cfg.MaxAttempts {
			my.remove(fmt.Errorf("init failed %d times: %w", attempts+1, err))
			return nil, err
		}
		my.setState(StateDegraded)
		my.mx.Lock()
		wait := my.backoff.Next()
		my.mx.Unlock()
		my.log.Warnf("init: %v, retry in %v", err, wait)
		if err := sleepCtx(my.ctx, wait); err != nil {
			return nil, err
		}
	}
}

// observe feeds one operation outcome into the board health.
func (my *slot) observe(ch channelKind, err error) {
	if err == nil {
		my.mx.Lock()
		my.errs[ch] = 0
		recovered := my.state == StateDegraded && ch == my.degradedBy
		if recovered {
			my.backoff.Reset()
		}
		my.mx.Unlock()
		if recovered {
			my.setState(StateActive)
		}
		return
	}
	if my.ctx.Err() != nil {
		return
	}
	my.s.stats.hw.Add(1)
	switch {
	case hwerr.IsCallerError(err):
		my.log.Warnf("%v", err)
		return
	case hwerr.IsFatal(err):
		my.remove(err)
		return
	}

	my.mx.Lock()
	my.errs[ch]++
	state, errs, attempts := my.state, my.errs[ch], my.backoff.Attempts()
	my.mx.Unlock()

	my.log.Debugf("transient error %d: %v", errs, err)
	switch {
	case state == StateActive && errs >= my.s.cfg.DegradeAfter:
		my.log.Warnf("%d errors in a row: %v", errs, err)
		my.mx.Lock()
		my.backoff.Reset()
		my.degradedBy = ch
		my.mx.Unlock()
		my.setState(StateDegraded)
	case state == StateDegraded && attempts >= my.s.cfg.MaxAttempts:
		my.remove(fmt.Errorf("%d probes failed: %w", attempts, err))
	}
}

// mine serves send and poll requests from the dispatch loop.
func (my *slot) mine() {
	defer my.tasks.Done()
	for {
		select {
		case <-my.ctx.Done():
			return
		case req := <-my.reqs:
			var res result
			switch req.op {
			case opSend:
				res.err = my.board.SendWork(my.ctx, req.job)
			case opPoll:
				res.nonces, res.err = my.board.PollNonces(my.ctx)
			}
			req.reply <- res
		}
	}
}

// do hands one operation to the mining worker and waits for it.
func (my *slot) do(ctx context.Context, req request) (result, error) {
	req.reply = make(chan result, 1)
	select {
	case my.reqs <- req:
	case <-my.ctx.Done():
		return result{}, my.ctx.Err()
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-my.ctx.Done():
		return result{}, my.ctx.Err()
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// supervise reads diagnostics every DiagInterval. While Degraded it probes
// the failing channel, spaced by the backoff.
func (my *slot) supervise() {
	defer my.tasks.Done()
	reg, _ := my.board.(ThermalRegulator)
	for {
		my.mx.Lock()
		wait := my.s.cfg.DiagInterval
		probeData := false
		if my.state == StateDegraded {
			wait = my.backoff.Next()
			probeData = my.degradedBy == chanData
		}
		my.mx.Unlock()
		if sleepCtx(my.ctx, wait) != nil {
			return
		}

		if probeData {
			res, err := my.do(my.ctx, request{op: opPoll})
			if err != nil {
				return
			}
			my.observe(chanData, res.err)
			now := time.Now()
			for _, n := range res.nonces {
				my.s.collect(my.ctx, n, now)
			}
		}

		d, err := my.board.ReadDiagnostics(my.ctx)
		my.mx.Lock()
		if my.state != StateRemoved {
			my.diag = d
		}
		my.mx.Unlock()
		if err == nil && reg != nil {
			if _, terr := reg.RegulateThermal(my.ctx, d); terr != nil {
				err = terr
			}
		}
		my.observe(chanControl, err)
	}
}
