package pool

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"asic_miner/job"
	"asic_miner/log"
)

// Local is an in-process pool handing out synthetic work. It drives
// simulated boards end to end without a network.
type Local struct {
	Name     string
	interval time.Duration
	diff     float64

	mx      sync.Mutex
	height  uint32
	last    *job.Job
	served  bool
	refresh chan struct{}

	connected atomic.Bool
	accepted  atomic.Uint64
	rejected  atomic.Uint64
}

// NewLocal makes a new block template every interval. Shares are checked
// against difficulty.
func NewLocal(name string, difficulty float64, interval time.Duration) *Local {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Local{
		Name:     name,
		interval: interval,
		diff:     difficulty,
		refresh:  make(chan struct{}, 1),
	}
}

func (my *Local) Connect(ctx context.Context) error {
	my.connected.Store(true)
	log.Infof("local pool %s ready at difficulty %g", my.Name, my.diff)
	return nil
}

func (my *Local) template() *job.Template {
	my.height++
	var seed [8]byte
	binary.LittleEndian.PutUint32(seed[:4], my.height)
	binary.LittleEndian.PutUint32(seed[4:], uint32(time.Now().Unix()))
	return &job.Template{
		JobID:        chainhash.DoubleHashH(seed[:]).String()[:8],
		Version:      0x20000000,
		VersionMask:  0x1fffe000,
		PrevHash:     chainhash.DoubleHashH(seed[:4]),
		CoinB1:       []byte{0x01, 0x00, 0x00, 0x00, 0x01},
		CoinB2:       []byte{0xff, 0xff, 0xff, 0xff},
		ExtraNonce1:  seed[:4],
		MerkleBranch: []chainhash.Hash{chainhash.DoubleHashH(seed[4:])},
		NTime:        uint32(time.Now().Unix()),
		NBits:        0x1703a30c,
		CleanJobs:    true,
	}
}

func (my *Local) fresh() (*job.Job, error) {
	en2, err := job.NewExtranonce2(4, 0)
	if err != nil {
		return nil, err
	}
	j, err := job.New(my.template(), en2, my.diff)
	if err != nil {
		return nil, err
	}
	my.last = j
	return j, nil
}

func (my *Local) NextJob(ctx context.Context) (*job.Job, error) {
	if !my.connected.Load() {
		return nil, &ConnectionError{Pool: my.Name, Err: ErrNotConnected}
	}
	my.mx.Lock()
	if !my.served {
		my.served = true
		defer my.mx.Unlock()
		return my.fresh()
	}
	my.mx.Unlock()

	t := time.NewTimer(my.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		my.mx.Lock()
		defer my.mx.Unlock()
		return my.fresh()
	case <-my.refresh:
		my.mx.Lock()
		defer my.mx.Unlock()
		if my.last == nil {
			return my.fresh()
		}
		j, err := my.last.Derive()
		if err != nil {
			return nil, err
		}
		my.last = j
		return j, nil
	}
}

func (my *Local) Submit(ctx context.Context, share *job.Share) (Verdict, error) {
	if !my.connected.Load() {
		return Verdict{}, &ConnectionError{Pool: my.Name, Err: ErrNotConnected}
	}
	if share.Difficulty < my.diff {
		my.rejected.Add(1)
		return Verdict{Reason: "low difficulty share"}, nil
	}
	my.accepted.Add(1)
	return Verdict{Accepted: true}, nil
}

func (my *Local) Difficulty() float64 { return my.diff }

func (my *Local) Refresh() {
	select {
	case my.refresh <- struct{}{}:
	default:
	}
}

func (my *Local) Close() error {
	my.connected.Store(false)
	return nil
}

// Accepted counts shares that met the difficulty.
func (my *Local) Accepted() uint64 { return my.accepted.Load() }
