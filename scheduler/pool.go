package scheduler

import (
	"context"
	"errors"

	"asic_miner/pool"
	"asic_miner/util"
)

// runPools keeps one pool feeding jobs. On a connection error the pool is
// marked unreachable and the next one by priority takes over right away.
// With every pool down mining pauses and the task retries with backoff.
func (my *Scheduler) runPools(ctx context.Context) {
	bo := util.NewBackoff(my.cfg.BackoffInitial, my.cfg.BackoffMax)
	paused := false
	for ctx.Err() == nil {
		var e pool.Entry
		ok := false
		if p := my.pools.SchedulePool(); p != nil {
			if cur, err := my.pools.GetPool(p.ID); err == nil && cur.Healthy() {
				e, ok = cur, true
			}
		}
		if !ok {
			if !paused {
				my.log.Errorf("no pool reachable, mining paused")
				paused = true
			}
			my.invalidate()
			if sleepCtx(ctx, bo.Next()) != nil {
				return
			}
			my.pools.ResetHealth()
			continue
		}

		err := my.work(ctx, e, func() {
			bo.Reset()
			if paused {
				my.log.Infof("mining resumed on pool %d %s", e.ID, e.Name())
				paused = false
			}
		})
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, pool.ErrConnection) {
			my.log.Warnf("pool %d %s: %v, failing over", e.ID, e.Name(), err)
			my.pools.MarkUnreachable(e.ID)
			my.invalidate()
			continue
		}
		my.log.Errorf("pool %d %s: %v", e.ID, e.Name(), err)
		if sleepCtx(ctx, bo.Next()) != nil {
			return
		}
	}
}

// work connects e and publishes its jobs until the pool fails.
func (my *Scheduler) work(ctx context.Context, e pool.Entry, connected func()) error {
	c := e.Client
	if err := c.Connect(ctx); err != nil {
		return err
	}
	connected()
	my.log.Infof("mining on pool %d %s", e.ID, e.Name())
	for {
		j, err := c.NextJob(ctx)
		if err != nil {
			return err
		}
		my.publish(j, e.ID, c)
	}
}

func (my *Scheduler) submitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-my.submitQ:
			my.submit(ctx, e)
		}
	}
}

// submit hands one share to the pool of its job. Transient failures are
// retried up to SubmitRetries times; a rejection is final.
func (my *Scheduler) submit(ctx context.Context, e *ledgerEntry) {
	defer my.ledger.Done(e.ID)
	share, rec := e.Share, e.rec

	for attempt := 0; ; attempt++ {
		if my.isStale(rec, e.ts) {
			my.stats.stale.Add(1)
			my.log.Debugf("share for job %s dropped, job invalidated", share.Job.JobID)
			return
		}

		v, err := rec.client.Submit(ctx, share)
		switch {
		case err == nil && v.Accepted:
			my.stats.accepted.Add(1)
			my.pools.MarkAccepted(rec.poolID)
			return
		case err == nil:
			my.stats.rejected.Add(1)
			my.pools.MarkRejected(rec.poolID)
			my.log.Infof("share job %s nonce %s %v", share.Job.JobID, share.NonceHex(), v)
			return
		case ctx.Err() != nil:
			my.stats.lost.Add(1)
			return
		case pool.IsTransient(err) && attempt < my.cfg.SubmitRetries:
			my.log.Warnf("submit job %s: %v, retry %d", share.Job.JobID, err, attempt+1)
			if sleepCtx(ctx, my.cfg.PollInterval) != nil {
				my.stats.lost.Add(1)
				return
			}
		default:
			my.stats.lost.Add(1)
			my.log.Errorf("share job %s nonce %s lost: %v", share.Job.JobID, share.NonceHex(), err)
			return
		}
	}
}
