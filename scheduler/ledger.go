package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"asic_miner/job"
)

type shareKey struct {
	trace   uuid.UUID
	nonce   uint32
	version uint32
}

type ledgerEntry struct {
	ID        uint64
	Share     *job.Share
	rec       *jobRecord
	ts        time.Time
	Submitted bool
	n         int
}

// ledger remembers every share found until its job can no longer be
// credited, so a nonce reported twice is submitted once.
type ledger struct {
	mx    sync.Mutex
	seq   uint64
	shmap map[shareKey]*ledgerEntry
	byID  map[uint64]*ledgerEntry
}

func newLedger() *ledger {
	return &ledger{
		shmap: make(map[shareKey]*ledgerEntry),
		byID:  make(map[uint64]*ledgerEntry),
	}
}

func keyOf(s *job.Share) shareKey {
	return shareKey{trace: s.Job.TraceID, nonce: s.Nonce.Value, version: s.Nonce.Version}
}

// Add records s. A share seen before is reported as dup and not recorded again.
func (my *ledger) Add(s *job.Share, rec *jobRecord) (*ledgerEntry, bool) {
	my.mx.Lock()
	defer my.mx.Unlock()

	k := keyOf(s)
	if e, ok := my.shmap[k]; ok {
		e.n++
		return e, true
	}
	my.seq++
	e := &ledgerEntry{ID: my.seq, Share: s, rec: rec, ts: time.Now(), n: 1}
	my.shmap[k] = e
	my.byID[e.ID] = e
	return e, false
}

// Done marks the entry as handed to the pool, whatever the verdict.
func (my *ledger) Done(id uint64) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if e, ok := my.byID[id]; ok {
		e.Submitted = true
	}
}

// RemoveStale drops finished entries older than ttl.
func (my *ledger) RemoveStale(now time.Time, ttl time.Duration) int {
	my.mx.Lock()
	defer my.mx.Unlock()

	n := 0
	for k, e := range my.shmap {
		if e.Submitted && now.Sub(e.ts) > ttl {
			delete(my.shmap, k)
			delete(my.byID, e.ID)
			n++
		}
	}
	return n
}

// Pending counts shares never handed to the pool.
func (my *ledger) Pending() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	n := 0
	for _, e := range my.shmap {
		if !e.Submitted {
			n++
		}
	}
	return n
}
