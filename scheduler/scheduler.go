// Package scheduler drives hash boards with work from the active pool. It
// owns board lifecycle, job fan-out, nonce revalidation, share submission and
// pool failover.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"asic_miner/config"
	"asic_miner/device/board"
	"asic_miner/device/thermal"
	"asic_miner/job"
	"asic_miner/log"
	"asic_miner/pool"
)

var (
	ErrBoardNotExist = errors.New("ErrBoardNotExist")
	ErrBoardExist    = errors.New("ErrBoardExist")
	ErrRunning       = errors.New("ErrRunning")
	ErrStopped       = errors.New("ErrStopped")
)

// Board is what the scheduler drives. *board.Board implements it.
type Board interface {
	ID() string
	SendWork(ctx context.Context, j *job.Job) error
	PollNonces(ctx context.Context) ([]job.Nonce, error)
	ReadDiagnostics(ctx context.Context) (board.Diagnostics, error)
	Close() error
}

// ThermalRegulator is implemented by boards that run their own fan loop.
// The supervisor feeds it every diagnostics snapshot.
type ThermalRegulator interface {
	RegulateThermal(ctx context.Context, d board.Diagnostics) (thermal.Decision, error)
}

var (
	_ Board            = (*board.Board)(nil)
	_ ThermalRegulator = (*board.Board)(nil)
)

// Factory brings a board up. It is called again on every retry.
type Factory func(ctx context.Context) (Board, error)

type State int32

const (
	StateDiscovered State = iota
	StateInitializing
	StateActive
	StateDegraded
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "Discovered"
	case StateInitializing:
		return "Initializing"
	case StateActive:
		return "Active"
	case StateDegraded:
		return "Degraded"
	case StateRemoved:
		return "Removed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Stats struct {
	Accepted    uint64
	Rejected    uint64
	Lost        uint64
	Stale       uint64
	Duplicate   uint64
	BelowTarget uint64
	HwErrors    uint64
	Jobs        uint64
	Boards      map[string]State
}

type counters struct {
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	lost      atomic.Uint64
	stale     atomic.Uint64
	duplicate atomic.Uint64
	below     atomic.Uint64
	hw        atomic.Uint64
	jobs      atomic.Uint64
}

type Scheduler struct {
	cfg   config.SchedulerConfig
	pools *pool.Manager
	log   *log.Logger

	// OnTransition, if set before Run, is called on every board state change.
	OnTransition func(id string, from, to State)

	mx       sync.Mutex
	slots    map[string]*slot
	order    []string
	runCtx   context.Context
	stopping bool
	boardsWg sync.WaitGroup

	current atomic.Pointer[jobRecord]
	jobsMx  sync.Mutex
	jobs    map[uuid.UUID]*jobRecord

	ledger  *ledger
	submitQ chan *ledgerEntry
	stats   counters
}

func New(cfg config.SchedulerConfig, pools *pool.Manager) *Scheduler {
	if cfg.DegradeAfter <= 0 {
		cfg.DegradeAfter = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.DiagInterval <= 0 {
		cfg.DiagInterval = 5 * time.Second
	}
	if cfg.JobMaxAge <= 0 {
		cfg.JobMaxAge = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		pools:   pools,
		log:     log.With("component", "scheduler"),
		slots:   make(map[string]*slot),
		jobs:    make(map[uuid.UUID]*jobRecord),
		ledger:  newLedger(),
		submitQ: make(chan *ledgerEntry, 256),
	}
}

// AddBoard registers a board as Discovered. Boards added while Run is active
// start right away.
func (my *Scheduler) AddBoard(id string, f Factory) error {
	my.mx.Lock()
	defer my.mx.Unlock()

	if my.stopping {
		return ErrStopped
	}
	if _, ok := my.slots[id]; ok {
		return fmt.Errorf("board %s: %w", id, ErrBoardExist)
	}
	sl := newSlot(my, id, f)
	my.slots[id] = sl
	my.order = append(my.order, id)
	if my.runCtx != nil {
		my.startSlot(sl)
	}
	return nil
}

// startSlot expects my.mx held.
func (my *Scheduler) startSlot(sl *slot) {
	sl.prepare(my.runCtx)
	my.boardsWg.Add(1)
	go func() {
		defer my.boardsWg.Done()
		sl.lifecycle()
	}()
}

// Run starts every task and blocks until ctx is cancelled. It returns once
// every board has been closed.
func (my *Scheduler) Run(ctx context.Context) error {
	my.mx.Lock()
	if my.runCtx != nil || my.stopping {
		my.mx.Unlock()
		return ErrRunning
	}
	my.runCtx = ctx
	for _, id := range my.order {
		my.startSlot(my.slots[id])
	}
	my.mx.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		my.runPools(ctx)
	}()
	go func() {
		defer wg.Done()
		my.dispatch(ctx)
	}()
	go func() {
		defer wg.Done()
		my.submitLoop(ctx)
	}()

	<-ctx.Done()
	my.mx.Lock()
	my.stopping = true
	my.mx.Unlock()

	wg.Wait()
	my.boardsWg.Wait()

	if n := my.ledger.Pending(); n > 0 {
		my.stats.lost.Add(uint64(n))
		my.log.Warnf("%d shares not submitted before shutdown", n)
	}
	st := my.Stats()
	my.log.Infof("stopped: accepted %d rejected %d stale %d lost %d hw errors %d",
		st.Accepted, st.Rejected, st.Stale, st.Lost, st.HwErrors)
	return nil
}

func (my *Scheduler) lookupSlot(id string) (*slot, error) {
	my.mx.Lock()
	defer my.mx.Unlock()
	sl, ok := my.slots[id]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", id, ErrBoardNotExist)
	}
	return sl, nil
}

func (my *Scheduler) State(id string) (State, error) {
	sl, err := my.lookupSlot(id)
	if err != nil {
		return StateRemoved, err
	}
	return sl.State(), nil
}

// Diagnostics is the last snapshot the supervisor read. Removed boards are
// reported offline.
func (my *Scheduler) Diagnostics(id string) (board.Diagnostics, error) {
	sl, err := my.lookupSlot(id)
	if err != nil {
		return board.Diagnostics{BoardID: id}, err
	}
	return sl.Diagnostics(), nil
}

// Boards lists board ids in the order they were added.
func (my *Scheduler) Boards() []string {
	my.mx.Lock()
	defer my.mx.Unlock()
	return append([]string(nil), my.order...)
}

func (my *Scheduler) activeSlots() []*slot {
	my.mx.Lock()
	defer my.mx.Unlock()
	var out []*slot
	for _, id := range my.order {
		if sl := my.slots[id]; sl.State() == StateActive {
			out = append(out, sl)
		}
	}
	return out
}

func (my *Scheduler) Stats() Stats {
	st := Stats{
		Accepted:    my.stats.accepted.Load(),
		Rejected:    my.stats.rejected.Load(),
		Lost:        my.stats.lost.Load(),
		Stale:       my.stats.stale.Load(),
		Duplicate:   my.stats.duplicate.Load(),
		BelowTarget: my.stats.below.Load(),
		HwErrors:    my.stats.hw.Load(),
		Jobs:        my.stats.jobs.Load(),
		Boards:      make(map[string]State),
	}
	my.mx.Lock()
	defer my.mx.Unlock()
	for id, sl := range my.slots {
		st.Boards[id] = sl.State()
	}
	return st
}

// CurrentJob is the job boards are working on, nil while mining is paused.
func (my *Scheduler) CurrentJob() *job.Job {
	if rec := my.current.Load(); rec != nil {
		return rec.job
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
