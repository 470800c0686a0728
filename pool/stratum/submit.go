package stratum

import (
	"context"
	"errors"
	"fmt"

	"asic_miner/job"
	"asic_miner/log"
	"asic_miner/pool"
	"asic_miner/util"
)

// Submit sends mining.submit and waits for the verdict.
// params: [user, jobid, extranonce2, ntime, nonce, version_bits]
func (my *Stratum) Submit(ctx context.Context, share *job.Share) (pool.Verdict, error) {
	c := my.current()
	if c == nil {
		return pool.Verdict{}, my.connErr(pool.ErrNotConnected)
	}
	j := share.Job
	params := []string{my.Cfg.User, j.JobID, j.ExtraNonce2.Hex(), share.NTimeHex(), share.NonceHex()}
	if j.VersionMask != 0 {
		params = append(params, share.VersionBitsHex())
	}

	resp, err := my.call(ctx, c, RequestTimeout, "mining.submit", params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return pool.Verdict{}, fmt.Errorf("%s job %s: %w", my.Cfg.URL, j.JobID, pool.ErrSubmitTimeout)
		}
		return pool.Verdict{}, err
	}

	v := pool.Verdict{Accepted: util.ToBool(resp.Result)}
	if !v.Accepted {
		v.Reason = resp.ErrorString()
		if v.Reason == "" {
			v.Reason = "rejected"
		}
	}
	log.Infof("submit job %s nonce %s en2 %s diff %.1f: %v",
		j.JobID, share.NonceHex(), j.ExtraNonce2.Hex(), share.Difficulty, v)
	return v, nil
}
