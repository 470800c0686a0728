package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asic_miner/config"
	"asic_miner/device/bm13xx"
	"asic_miner/device/board"
	"asic_miner/device/hwerr"
	"asic_miner/device/thermal"
	"asic_miner/job"
	"asic_miner/pool"
	"asic_miner/pool/mock_pool"
)

const poolDiff = 1.0 / (1 << 20)

func testCfg() config.SchedulerConfig {
	return config.SchedulerConfig{
		PollInterval:   5 * time.Millisecond,
		DiagInterval:   5 * time.Millisecond,
		StaleGrace:     2 * time.Second,
		JobMaxAge:      time.Minute,
		DegradeAfter:   3,
		MaxAttempts:    2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		SubmitRetries:  2,
	}
}

func testJob(t *testing.T, id string, diff float64) *job.Job {
	en2, err := job.NewExtranonce2(4, 0)
	require.NoError(t, err)
	j, err := job.New(&job.Template{
		JobID:       id,
		Version:     0x20000000,
		VersionMask: 0x1fffe000,
		CoinB1:      []byte(id),
		CoinB2:      []byte{0x02},
		ExtraNonce1: []byte{0x03},
		NTime:       0x66000000,
		NBits:       0x1703a30c,
	}, en2, diff)
	require.NoError(t, err)
	return j
}

// noncesFor finds k nonces meeting the job difficulty.
func noncesFor(t *testing.T, j *job.Job, k int) []job.Nonce {
	found := job.Search(j, 0, 1<<16, j.Difficulty)
	require.GreaterOrEqual(t, len(found), k)
	out := make([]job.Nonce, k)
	for i := range out {
		out[i] = job.Nonce{Value: found[i], JobTrace: j.TraceID, Version: j.Version, BoardID: "b0"}
	}
	return out
}

func block(ctx context.Context) (*job.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func start(t *testing.T, s *Scheduler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

type transition struct {
	from, to State
}

type recorder struct {
	mx  sync.Mutex
	log []transition
	at  map[State]int
	fb  *fakeBoard
}

func (my *recorder) hook(id string, from, to State) {
	my.mx.Lock()
	defer my.mx.Unlock()
	my.log = append(my.log, transition{from, to})
	if my.at == nil {
		my.at = make(map[State]int)
	}
	if my.fb != nil {
		my.at[to] = my.fb.reads()
	}
}

func (my *recorder) transitions() []transition {
	my.mx.Lock()
	defer my.mx.Unlock()
	return append([]transition(nil), my.log...)
}

type fakeBoard struct {
	id string

	mx        sync.Mutex
	sent      []*job.Job
	polls     int
	diagReads int
	closed    bool
	// diagErr decides the outcome of the n'th diagnostics read, from 1
	diagErr func(n int) error
	// pollErr does the same for nonce polls
	pollErr func(n int) error
}

func newFakeBoard(id string) *fakeBoard {
	return &fakeBoard{id: id}
}

func (f *fakeBoard) open(ctx context.Context) (Board, error) { return f, nil }

func (f *fakeBoard) ID() string { return f.id }

func (f *fakeBoard) SendWork(ctx context.Context, j *job.Job) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.sent = append(f.sent, j)
	return nil
}

func (f *fakeBoard) PollNonces(ctx context.Context) ([]job.Nonce, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr(f.polls)
	}
	return nil, nil
}

func (f *fakeBoard) ReadDiagnostics(ctx context.Context) (board.Diagnostics, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.diagReads++
	d := board.Diagnostics{BoardID: f.id, Online: true, TempC: 50}
	if f.diagErr != nil {
		if err := f.diagErr(f.diagReads); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (f *fakeBoard) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.closed {
		return hwerr.ErrClosed
	}
	f.closed = true
	return nil
}

func (f *fakeBoard) reads() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.diagReads
}

func (f *fakeBoard) pollCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.polls
}

func (f *fakeBoard) isClosed() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.closed
}

func (f *fakeBoard) hasJob(j *job.Job) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, s := range f.sent {
		if s == j {
			return true
		}
	}
	return false
}

func simConfig(id string) board.Config {
	return board.Config{
		ID:               id,
		Family:           bm13xx.BM1370,
		ChainLength:      1,
		FrequencyMHz:     500,
		RampStepMHz:      100,
		VersionMask:      0x1fffe000,
		TicketDifficulty: 256,
		EnumWindow:       20 * time.Millisecond,
		ResetHold:        time.Millisecond,
		CoreADCChannel:   1,
		ControlTimeout:   50 * time.Millisecond,
		Thermal:          thermal.DefaultConfig(),
	}
}

// countingBoard records what the scheduler got back from each poll.
type countingBoard struct {
	*board.Board
	polls atomic.Int64
	found atomic.Int64
}

func (c *countingBoard) PollNonces(ctx context.Context) ([]job.Nonce, error) {
	n, err := c.Board.PollNonces(ctx)
	c.polls.Add(1)
	c.found.Add(int64(len(n)))
	return n, err
}

func TestSingleShare(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock_pool.NewMockClient(ctrl)
	j := testJob(t, "s1", poolDiff)

	var submitted *job.Share
	c.EXPECT().Connect(gomock.Any()).Return(nil)
	c.EXPECT().NextJob(gomock.Any()).Return(j, nil)
	c.EXPECT().NextJob(gomock.Any()).DoAndReturn(block).AnyTimes()
	c.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, s *job.Share) (pool.Verdict, error) {
			submitted = s
			return pool.Verdict{Accepted: true}, nil
		}).Times(1)

	mgr := pool.NewManager()
	_, err := mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool1:3333"}, c)
	require.NoError(t, err)

	cfg := testCfg()
	cfg.DiagInterval = 20 * time.Millisecond
	s := New(cfg, mgr)

	var mx sync.Mutex
	var sim *board.Sim
	var cb *countingBoard
	require.NoError(t, s.AddBoard("b0", func(ctx context.Context) (Board, error) {
		b, bs, err := board.Simulated(ctx, simConfig("b0"), 0)
		if err != nil {
			return nil, err
		}
		mx.Lock()
		sim = bs
		cb = &countingBoard{Board: b}
		mx.Unlock()
		return cb, nil
	}))
	getSim := func() *board.Sim {
		mx.Lock()
		defer mx.Unlock()
		return sim
	}
	getBoard := func() *countingBoard {
		mx.Lock()
		defer mx.Unlock()
		return cb
	}

	stop := start(t, s)
	require.Eventually(t, func() bool {
		bs := getSim()
		if bs == nil {
			return false
		}
		_, ok := bs.Data.LastJob()
		return ok
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateActive, s.Stats().Boards["b0"])

	// nothing comes back until a nonce is injected
	polled := getBoard().polls.Load()
	require.Eventually(t, func() bool { return getBoard().polls.Load() >= polled+5 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, getBoard().found.Load())
	assert.Zero(t, s.Stats().Accepted)

	w, _ := getSim().Data.LastJob()
	n := noncesFor(t, j, 1)[0]
	getSim().Data.InjectNonce(0, w.JobID, n.Value, 0)

	require.Eventually(t, func() bool { return s.Stats().Accepted == 1 }, 2*time.Second, time.Millisecond)
	stop()
	assert.Equal(t, int64(1), getBoard().found.Load())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Zero(t, st.Stale)
	assert.Zero(t, st.Lost)
	assert.Zero(t, st.Duplicate)
	require.NotNil(t, submitted)
	assert.Equal(t, n.Value, submitted.Nonce.Value)
	assert.Equal(t, j.TraceID, submitted.Job.TraceID)

	assert.True(t, getSim().Data.Closed())
	assert.True(t, getSim().Control.Closed())
	d, err := s.Diagnostics("b0")
	require.NoError(t, err)
	assert.False(t, d.Online)
}

func TestStaleRule(t *testing.T) {
	now := time.Now()
	grace := 2 * time.Second

	current := &jobRecord{}
	assert.False(t, current.staleAt(now.Add(time.Hour), grace))

	old := &jobRecord{supersededAt: now}
	assert.False(t, old.staleAt(now.Add(-time.Second), grace))
	assert.False(t, old.staleAt(now.Add(grace), grace))
	assert.True(t, old.staleAt(now.Add(grace+time.Millisecond), grace))

	failed := &jobRecord{invalid: true}
	assert.True(t, failed.staleAt(now, grace))
}

// J1 is superseded by J2: J1 nonces count within the grace period only.
func TestStaleGrace(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock_pool.NewMockClient(ctrl)
	s := New(testCfg(), pool.NewManager())
	ctx := context.Background()

	j1 := testJob(t, "j1", poolDiff)
	j2 := testJob(t, "j2", poolDiff)
	s.publish(j1, 0, c)
	s.publish(j2, 0, c)
	assert.Same(t, j2, s.CurrentJob())

	rec1 := s.lookup(j1.TraceID)
	require.NotNil(t, rec1)
	superseded := rec1.supersededAt
	require.False(t, superseded.IsZero())

	n1 := noncesFor(t, j1, 2)
	n1[0].ReceivedAt = superseded.Add(time.Second)
	s.collect(ctx, n1[0], time.Now())
	assert.Len(t, s.submitQ, 1)

	n1[1].ReceivedAt = superseded.Add(3 * time.Second)
	s.collect(ctx, n1[1], time.Now())
	assert.Len(t, s.submitQ, 1)
	assert.Equal(t, uint64(1), s.Stats().Stale)

	n2 := noncesFor(t, j2, 2)
	n2[0].ReceivedAt = superseded.Add(time.Hour)
	s.collect(ctx, n2[0], time.Now())
	assert.Len(t, s.submitQ, 2)

	s.collect(ctx, n2[0], time.Now())
	assert.Len(t, s.submitQ, 2)
	assert.Equal(t, uint64(1), s.Stats().Duplicate)

	below := job.Nonce{Value: 0xffffffff, JobTrace: j2.TraceID, Version: j2.Version}
	if res, _ := job.Validate(j2, below); res == job.ResultBelowTarget {
		s.collect(ctx, below, time.Now())
		assert.Equal(t, uint64(1), s.Stats().BelowTarget)
	}

	// failover invalidates everything, whatever the age
	s.invalidate()
	assert.Nil(t, s.CurrentJob())
	n2[1].ReceivedAt = time.Now()
	s.collect(ctx, n2[1], time.Now())
	assert.Len(t, s.submitQ, 2)
	assert.Equal(t, uint64(2), s.Stats().Stale)
}

func TestSubmitRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock_pool.NewMockClient(ctrl)
	mgr := pool.NewManager()
	_, err := mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool1:3333"}, c)
	require.NoError(t, err)
	cfg := testCfg()
	cfg.PollInterval = time.Millisecond
	s := New(cfg, mgr)
	ctx := context.Background()

	j := testJob(t, "r1", poolDiff)
	s.publish(j, 0, c)
	shares := make([]*ledgerEntry, 3)
	for i, n := range noncesFor(t, j, 3) {
		res, share := job.Validate(j, n)
		require.Equal(t, job.ResultShare, res)
		e, dup := s.ledger.Add(share, s.lookup(j.TraceID))
		require.False(t, dup)
		shares[i] = e
	}
	lostConn := &pool.ConnectionError{Pool: "pool1", Err: io.EOF}

	gomock.InOrder(
		c.EXPECT().Submit(gomock.Any(), shares[0].Share).Return(pool.Verdict{}, lostConn),
		c.EXPECT().Submit(gomock.Any(), shares[0].Share).Return(pool.Verdict{}, fmt.Errorf("job r1: %w", pool.ErrSubmitTimeout)),
		c.EXPECT().Submit(gomock.Any(), shares[0].Share).Return(pool.Verdict{Accepted: true}, nil),
	)
	s.submit(ctx, shares[0])
	assert.Equal(t, uint64(1), s.Stats().Accepted)

	c.EXPECT().Submit(gomock.Any(), shares[1].Share).Return(pool.Verdict{}, lostConn).Times(1 + cfg.SubmitRetries)
	s.submit(ctx, shares[1])
	assert.Equal(t, uint64(1), s.Stats().Lost)

	c.EXPECT().Submit(gomock.Any(), shares[2].Share).Return(pool.Verdict{Reason: "23 Low difficulty share"}, nil).Times(1)
	s.submit(ctx, shares[2])
	assert.Equal(t, uint64(1), s.Stats().Rejected)

	assert.Zero(t, s.ledger.Pending())
	p, err := mgr.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Accepted)
	assert.Equal(t, uint64(1), p.Rejected)
}

func TestSubmitDropsInvalidatedShare(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock_pool.NewMockClient(ctrl)
	s := New(testCfg(), pool.NewManager())

	j := testJob(t, "d1", poolDiff)
	s.publish(j, 0, c)
	_, share := job.Validate(j, noncesFor(t, j, 1)[0])
	e, _ := s.ledger.Add(share, s.lookup(j.TraceID))

	s.invalidate()
	s.submit(context.Background(), e)
	assert.Equal(t, uint64(1), s.Stats().Stale)
	assert.Zero(t, s.Stats().Lost)
}

func TestDegradeThenRemove(t *testing.T) {
	fb := newFakeBoard("b0")
	fb.diagErr = func(int) error { return hwerr.Timeout("i2c read", 50*time.Millisecond) }

	s := New(testCfg(), pool.NewManager())
	rec := &recorder{fb: fb}
	s.OnTransition = rec.hook
	require.NoError(t, s.AddBoard("b0", fb.open))
	start(t, s)

	require.Eventually(t, func() bool {
		st, _ := s.State("b0")
		return st == StateRemoved
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, fb.isClosed, time.Second, time.Millisecond)

	assert.Equal(t, []transition{
		{StateDiscovered, StateInitializing},
		{StateInitializing, StateActive},
		{StateActive, StateDegraded},
		{StateDegraded, StateRemoved},
	}, rec.transitions())
	rec.mx.Lock()
	assert.Equal(t, 3, rec.at[StateDegraded])
	rec.mx.Unlock()

	d, err := s.Diagnostics("b0")
	require.NoError(t, err)
	assert.False(t, d.Online)
	assert.Equal(t, "b0", d.BoardID)

	polls := fb.pollCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, fb.pollCount())
	assert.Positive(t, s.Stats().HwErrors)
}

func TestDegradedRecovers(t *testing.T) {
	fb := newFakeBoard("b0")
	fb.diagErr = func(n int) error {
		if n <= 3 {
			return hwerr.Timeout("i2c read", 50*time.Millisecond)
		}
		return nil
	}

	s := New(testCfg(), pool.NewManager())
	rec := &recorder{}
	s.OnTransition = rec.hook
	require.NoError(t, s.AddBoard("b0", fb.open))
	start(t, s)

	require.Eventually(t, func() bool {
		tr := rec.transitions()
		return len(tr) == 4 && tr[3] == transition{StateDegraded, StateActive}
	}, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	st, err := s.State("b0")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st)
}

func TestDataChannelFailureRemoves(t *testing.T) {
	fb := newFakeBoard("b0")
	fb.pollErr = func(int) error { return hwerr.Timeout("read data", 10*time.Millisecond) }

	s := New(testCfg(), pool.NewManager())
	rec := &recorder{}
	s.OnTransition = rec.hook
	require.NoError(t, s.AddBoard("b0", fb.open))
	start(t, s)

	require.Eventually(t, func() bool {
		st, _ := s.State("b0")
		return st == StateRemoved
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, fb.isClosed, time.Second, time.Millisecond)

	// healthy diagnostics never count as recovery from data errors
	assert.Equal(t, []transition{
		{StateDiscovered, StateInitializing},
		{StateInitializing, StateActive},
		{StateActive, StateDegraded},
		{StateDegraded, StateRemoved},
	}, rec.transitions())
	assert.Positive(t, fb.reads())
}

func TestDataChannelRecovers(t *testing.T) {
	fb := newFakeBoard("b0")
	fb.pollErr = func(n int) error {
		if n <= 3 {
			return hwerr.Timeout("read data", 10*time.Millisecond)
		}
		return nil
	}

	s := New(testCfg(), pool.NewManager())
	rec := &recorder{}
	s.OnTransition = rec.hook
	require.NoError(t, s.AddBoard("b0", fb.open))
	start(t, s)

	require.Eventually(t, func() bool {
		tr := rec.transitions()
		return len(tr) == 4 && tr[3] == transition{StateDegraded, StateActive}
	}, 2*time.Second, time.Millisecond)
	polls := fb.pollCount()
	require.Eventually(t, func() bool { return fb.pollCount() > polls+3 }, time.Second, time.Millisecond)
	st, err := s.State("b0")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st)
	assert.Len(t, rec.transitions(), 4)
}

func TestInitErrors(t *testing.T) {
	s := New(testCfg(), pool.NewManager())

	var mx sync.Mutex
	fatalCalls, transientCalls := 0, 0
	require.NoError(t, s.AddBoard("fatal", func(ctx context.Context) (Board, error) {
		mx.Lock()
		defer mx.Unlock()
		fatalCalls++
		return nil, fmt.Errorf("board fatal: %w", hwerr.ErrEnumeration)
	}))
	fb := newFakeBoard("flaky")
	require.NoError(t, s.AddBoard("flaky", func(ctx context.Context) (Board, error) {
		mx.Lock()
		defer mx.Unlock()
		transientCalls++
		if transientCalls < 3 {
			return nil, hwerr.Timeout("enumerate", time.Millisecond)
		}
		return fb, nil
	}))
	assert.ErrorIs(t, s.AddBoard("flaky", fb.open), ErrBoardExist)

	stop := start(t, s)
	require.Eventually(t, func() bool {
		st := s.Stats().Boards
		return st["fatal"] == StateRemoved && st["flaky"] == StateActive
	}, 2*time.Second, time.Millisecond)
	stop()

	mx.Lock()
	assert.Equal(t, 1, fatalCalls)
	assert.Equal(t, 3, transientCalls)
	mx.Unlock()
	assert.True(t, fb.isClosed())

	_, err := s.State("nope")
	assert.ErrorIs(t, err, ErrBoardNotExist)
	assert.ErrorIs(t, s.AddBoard("late", fb.open), ErrStopped)
}

func TestFailover(t *testing.T) {
	ctrl := gomock.NewController(t)
	p1 := mock_pool.NewMockClient(ctrl)
	p2 := mock_pool.NewMockClient(ctrl)
	j2 := testJob(t, "p2", poolDiff)

	p1.EXPECT().Connect(gomock.Any()).Return(&pool.ConnectionError{Pool: "pool1", Err: errors.New("connection refused")})
	p2.EXPECT().Connect(gomock.Any()).Return(nil)
	p2.EXPECT().NextJob(gomock.Any()).Return(j2, nil)
	p2.EXPECT().NextJob(gomock.Any()).DoAndReturn(block).AnyTimes()

	mgr := pool.NewManager()
	_, err := mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool1:3333"}, p1)
	require.NoError(t, err)
	_, err = mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool2:3333"}, p2)
	require.NoError(t, err)

	fb := newFakeBoard("b0")
	s := New(testCfg(), mgr)
	require.NoError(t, s.AddBoard("b0", fb.open))
	stop := start(t, s)

	require.Eventually(t, func() bool { return fb.hasJob(j2) }, time.Second, time.Millisecond)
	assert.Same(t, j2, s.CurrentJob())
	stop()

	pools := mgr.Snapshot()
	require.Len(t, pools, 2)
	assert.True(t, pools[0].Unreachable)
	assert.False(t, pools[1].Unreachable)
	st, _ := s.State("b0")
	assert.NotEqual(t, StateRemoved, st)
}

func TestFailoverInvalidatesJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	p1 := mock_pool.NewMockClient(ctrl)
	p2 := mock_pool.NewMockClient(ctrl)
	j1 := testJob(t, "p1", poolDiff)
	j2 := testJob(t, "p2", poolDiff)
	lose := make(chan struct{})

	p1.EXPECT().Connect(gomock.Any()).Return(nil)
	p1.EXPECT().NextJob(gomock.Any()).Return(j1, nil)
	p1.EXPECT().NextJob(gomock.Any()).DoAndReturn(func(ctx context.Context) (*job.Job, error) {
		<-lose
		return nil, &pool.ConnectionError{Pool: "pool1", Err: io.EOF}
	})
	p2.EXPECT().Connect(gomock.Any()).Return(nil)
	p2.EXPECT().NextJob(gomock.Any()).Return(j2, nil)
	p2.EXPECT().NextJob(gomock.Any()).DoAndReturn(block).AnyTimes()

	mgr := pool.NewManager()
	_, err := mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool1:3333"}, p1)
	require.NoError(t, err)
	_, err = mgr.AddPool(config.PoolEntryConfig{URL: "stratum+tcp://pool2:3333"}, p2)
	require.NoError(t, err)

	fb := newFakeBoard("b0")
	s := New(testCfg(), mgr)
	require.NoError(t, s.AddBoard("b0", fb.open))
	start(t, s)

	require.Eventually(t, func() bool { return fb.hasJob(j1) }, time.Second, time.Millisecond)
	close(lose)
	require.Eventually(t, func() bool { return fb.hasJob(j2) }, time.Second, time.Millisecond)

	// a J1 nonce still in flight is stale even inside the grace period
	n := noncesFor(t, j1, 1)[0]
	n.ReceivedAt = time.Now()
	s.collect(context.Background(), n, time.Now())
	assert.Equal(t, uint64(1), s.Stats().Stale)
	assert.Empty(t, s.submitQ)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Degraded", StateDegraded.String())
	assert.Equal(t, "State(9)", State(9).String())
}
