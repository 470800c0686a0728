package stratum

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"asic_miner/job"
	"asic_miner/log"
	"asic_miner/pool"
	"asic_miner/util"
)

/*
	{
		"id":null,
		"method":"mining.notify",
		"params":[
			JobID         "a5238779",
			PrevHash      "628b64fc86b9e25b685f59ff51c710b9647c7829000813a10000000000000000",
			CoinB1        "01000000010000...",
			CoinB2        "798723a52f736c...",
			MerkleBranch  ["40c7958d...", ...],
			Version       "20000004",
			NBits         "170a9080",
			NTime         "61fa0f58",
			CleanJobs     true
		]
	}
*/

// parseNotify builds a template from mining.notify params. The previous
// block hash arrives as eight byte-swapped words.
func parseNotify(params []interface{}) (*job.Template, error) {
	if len(params) < 9 {
		return nil, fmt.Errorf("mining.notify: %d params", len(params))
	}
	branch, ok := params[4].([]interface{})
	if !ok {
		return nil, fmt.Errorf("mining.notify: merkle branch %v", params[4])
	}

	t := &job.Template{
		JobID:     util.ToString(params[0]),
		CleanJobs: util.ToBool(params[8]),
	}
	prev, err := hex.DecodeString(util.SwapBytes(util.ToString(params[1])))
	if err != nil || len(prev) != chainhash.HashSize {
		return nil, fmt.Errorf("mining.notify: prevhash %v", params[1])
	}
	copy(t.PrevHash[:], prev)

	if t.CoinB1, err = hex.DecodeString(util.ToString(params[2])); err != nil {
		return nil, fmt.Errorf("mining.notify: coinb1: %w", err)
	}
	if t.CoinB2, err = hex.DecodeString(util.ToString(params[3])); err != nil {
		return nil, fmt.Errorf("mining.notify: coinb2: %w", err)
	}
	for _, s := range util.ToStringArray(branch) {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != chainhash.HashSize {
			return nil, fmt.Errorf("mining.notify: merkle branch entry %q", s)
		}
		var h chainhash.Hash
		copy(h[:], b)
		t.MerkleBranch = append(t.MerkleBranch, h)
	}
	if t.Version, err = util.BEHexToUint32(util.ToString(params[5])); err != nil {
		return nil, fmt.Errorf("mining.notify: version: %w", err)
	}
	if t.NBits, err = util.BEHexToUint32(util.ToString(params[6])); err != nil {
		return nil, fmt.Errorf("mining.notify: nbits: %w", err)
	}
	if t.NTime, err = util.BEHexToUint32(util.ToString(params[7])); err != nil {
		return nil, fmt.Errorf("mining.notify: ntime: %w", err)
	}
	return t, nil
}

// handleNotify expects my.mx held.
func (my *Stratum) handleNotify(params []interface{}) {
	t, err := parseNotify(params)
	if err != nil {
		log.Warnf("%s: %v", my.Cfg.URL, err)
		return
	}
	my.tmpl = t
	my.tmplNew = true
	log.Debugf("job %s clean %v", t.JobID, t.CleanJobs)
	my.notify()
}

// template applies the session state to the last notify. my.mx held.
func (my *Stratum) template() *job.Template {
	t := *my.tmpl
	t.PoolID = my.PoolID
	t.ExtraNonce1 = my.extraNonce1
	t.VersionMask = 0
	if my.versionRolling {
		t.VersionMask = my.serverMask
	}
	return &t
}

// takeJob returns a job if there is something new to work on. my.mx held.
func (my *Stratum) takeJob() (*job.Job, error) {
	switch {
	case my.tmpl != nil && my.tmplNew:
		my.tmplNew = false
		my.refresh = false
		en2, err := job.NewExtranonce2(my.extraNonce2Size, 0)
		if err != nil {
			return nil, err
		}
		j, err := job.New(my.template(), en2, my.difficulty)
		if err != nil {
			return nil, err
		}
		my.last = j
		return j, nil
	case my.refresh && my.last != nil:
		my.refresh = false
		t := my.template()
		t.CleanJobs = false
		j, err := job.New(t, my.last.ExtraNonce2.Next(), my.difficulty)
		if err != nil {
			return nil, err
		}
		my.last = j
		return j, nil
	}
	my.refresh = false
	return nil, nil
}

func (my *Stratum) NextJob(ctx context.Context) (*job.Job, error) {
	for {
		c := my.current()
		if c == nil {
			return nil, my.connErr(pool.ErrNotConnected)
		}
		my.mx.Lock()
		j, err := my.takeJob()
		my.mx.Unlock()
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.Done():
			my.state.Store(STATE_DISCONNECT)
			return nil, my.connErr(c.Err())
		case <-my.signal:
		}
	}
}
