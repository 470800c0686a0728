package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"asic_miner/job"
	"asic_miner/pool"
)

// jobRecord is a published job and where it came from. supersededAt and
// invalid are guarded by Scheduler.jobsMx.
type jobRecord struct {
	job    *job.Job
	poolID uint
	client pool.Client

	supersededAt time.Time
	invalid      bool

	// dispatch goroutine only
	refreshAsked bool
}

// staleAt reports whether a nonce for r arriving at `at` is stale. Jobs of a
// pool we failed away from are always stale; superseded jobs get grace.
func (r *jobRecord) staleAt(at time.Time, grace time.Duration) bool {
	if r.invalid {
		return true
	}
	if r.supersededAt.IsZero() {
		return false
	}
	return at.Sub(r.supersededAt) > grace
}

// publish makes j the current job. The previous one is superseded now.
func (my *Scheduler) publish(j *job.Job, poolID uint, c pool.Client) {
	now := time.Now()
	rec := &jobRecord{job: j, poolID: poolID, client: c}

	my.jobsMx.Lock()
	if old := my.current.Load(); old != nil && old.supersededAt.IsZero() {
		old.supersededAt = now
	}
	my.jobs[j.TraceID] = rec
	my.prune(now)
	my.current.Store(rec)
	my.jobsMx.Unlock()

	my.stats.jobs.Add(1)
	my.log.Debugf("job %s pool %d en2 %s diff %g clean %v", j.JobID, poolID, j.ExtraNonce2, j.Difficulty, j.CleanJobs)
}

// invalidate drops every known job and pauses mining until the next publish.
func (my *Scheduler) invalidate() {
	my.jobsMx.Lock()
	defer my.jobsMx.Unlock()
	for _, r := range my.jobs {
		r.invalid = true
	}
	my.current.Store(nil)
}

// prune forgets jobs no nonce can be credited to anymore. jobsMx held.
func (my *Scheduler) prune(now time.Time) {
	keep := my.cfg.StaleGrace + my.cfg.JobMaxAge
	for k, r := range my.jobs {
		if r.invalid || (!r.supersededAt.IsZero() && now.Sub(r.supersededAt) > keep) {
			delete(my.jobs, k)
		}
	}
}

func (my *Scheduler) lookup(trace uuid.UUID) *jobRecord {
	my.jobsMx.Lock()
	defer my.jobsMx.Unlock()
	return my.jobs[trace]
}

func (my *Scheduler) isStale(r *jobRecord, at time.Time) bool {
	my.jobsMx.Lock()
	defer my.jobsMx.Unlock()
	return r.staleAt(at, my.cfg.StaleGrace)
}

func (my *Scheduler) dispatch(ctx context.Context) {
	t := time.NewTicker(my.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			my.cycle(ctx)
		}
	}
}

// cycle sends the current job to every Active board that does not have it
// yet, waits for all sends, then polls every Active board.
func (my *Scheduler) cycle(ctx context.Context) {
	rec := my.current.Load()
	if rec != nil && my.checkAge(rec) {
		rec = my.current.Load()
	}
	slots := my.activeSlots()

	var wg sync.WaitGroup
	if rec != nil {
		for _, sl := range slots {
			if sl.sentTrace == rec.job.TraceID {
				continue
			}
			wg.Add(1)
			go func(sl *slot) {
				defer wg.Done()
				res, err := sl.do(ctx, request{op: opSend, job: rec.job})
				if err != nil {
					return
				}
				sl.observe(chanData, res.err)
				if res.err == nil {
					sl.sentTrace = rec.job.TraceID
				}
			}(sl)
		}
		wg.Wait()
	}

	found := make([][]job.Nonce, len(slots))
	for i, sl := range slots {
		wg.Add(1)
		go func(i int, sl *slot) {
			defer wg.Done()
			res, err := sl.do(ctx, request{op: opPoll})
			if err != nil {
				return
			}
			sl.observe(chanData, res.err)
			found[i] = res.nonces
		}(i, sl)
	}
	wg.Wait()

	now := time.Now()
	for _, nonces := range found {
		for _, n := range nonces {
			my.collect(ctx, n, now)
		}
	}
	my.ledger.RemoveStale(now, my.cfg.StaleGrace+my.cfg.JobMaxAge)
}

// checkAge asks the pool for fresh work once the job is older than
// JobMaxAge and derives the next extranonce2 locally if nothing came after
// twice that. Reports whether a new job was published.
func (my *Scheduler) checkAge(rec *jobRecord) bool {
	age := rec.job.Age()
	if age < my.cfg.JobMaxAge {
		return false
	}
	if !rec.refreshAsked {
		rec.refreshAsked = true
		my.log.Debugf("job %s is %v old, asking for fresh work", rec.job.JobID, age.Round(time.Second))
		rec.client.Refresh()
		return false
	}
	if age < 2*my.cfg.JobMaxAge {
		return false
	}
	j, err := rec.job.Derive()
	if err != nil {
		my.log.Warnf("derive job %s: %v", rec.job.JobID, err)
		return false
	}
	my.log.Infof("no fresh work from pool %d, rolling extranonce2 to %s", rec.poolID, j.ExtraNonce2)
	my.publish(j, rec.poolID, rec.client)
	return true
}

// collect revalidates n against its own job and queues the share.
func (my *Scheduler) collect(ctx context.Context, n job.Nonce, now time.Time) {
	rec := my.lookup(n.JobTrace)
	if rec == nil {
		my.stats.stale.Add(1)
		my.log.Debugf("stale %v: job unknown", n)
		return
	}
	res, share := job.Validate(rec.job, n)
	switch res {
	case job.ResultBelowTarget:
		my.stats.below.Add(1)
		return
	case job.ResultNotForJob:
		my.stats.hw.Add(1)
		return
	}

	at := n.ReceivedAt
	if at.IsZero() {
		at = now
	}
	if my.isStale(rec, at) {
		my.stats.stale.Add(1)
		my.log.Debugf("stale %v", n)
		return
	}

	e, dup := my.ledger.Add(share, rec)
	if dup {
		my.stats.duplicate.Add(1)
		my.log.Debugf("duplicate %v", n)
		return
	}
	select {
	case my.submitQ <- e:
	case <-ctx.Done():
	}
}
