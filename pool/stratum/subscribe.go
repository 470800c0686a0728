package stratum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"asic_miner/jsonrpc"
	"asic_miner/log"
	"asic_miner/util"
)

func (my *Stratum) required(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return my.connErr(fmt.Errorf("no reply: %w", err))
	}
	return err
}

// Subscribe resumes the previous session when the pool gave us an id.
func (my *Stratum) Subscribe(ctx context.Context, c *jsonrpc.Client) error {
	my.mx.Lock()
	params := []string{my.Agent}
	if my.subscribeID != "" {
		params = append(params, my.subscribeID)
	}
	my.mx.Unlock()

	resp, err := my.call(ctx, c, RequestTimeout, "mining.subscribe", params)
	if err != nil {
		return my.required(ctx, err)
	}
	if err := my.SubscribeResult(resp); err != nil {
		return my.connErr(err)
	}
	my.state.Store(STATE_SUBSCRIBE_DONE)
	return nil
}

/*
	{"id":0,
	"result":[[["mining.set_difficulty","53ed961d"],["mining.notify","53ed961d"]],"306504005ba15d",8],
	"error":null}
*/

func (my *Stratum) SubscribeResult(resp jsonrpc.Response) error {
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", resp.ErrorString(), ErrSubscribe)
	}
	a, ok := resp.Result.([]interface{})
	if !ok || len(a) < 3 {
		return fmt.Errorf("result %v: %w", resp.Result, ErrSubscribe)
	}

	my.mx.Lock()
	defer my.mx.Unlock()
	if subs, ok := a[0].([]interface{}); ok && len(subs) > 0 {
		if sub, ok := subs[0].([]interface{}); ok && len(sub) >= 2 {
			my.subscribeID = util.ToString(sub[1])
		}
	}
	if err := my.setExtraNonce(a[1], a[2]); err != nil {
		return fmt.Errorf("%v: %w", err, ErrSubscribe)
	}
	log.Debugf("subscribe id %s, extranonce1 %x, extranonce2 size %d",
		my.subscribeID, my.extraNonce1, my.extraNonce2Size)
	return nil
}

// setExtraNonce expects my.mx held.
func (my *Stratum) setExtraNonce(en1, size interface{}) error {
	b, err := hex.DecodeString(util.ToString(en1))
	if err != nil {
		return fmt.Errorf("extranonce1 %v: %v", en1, err)
	}
	n, err := util.ToUint(size)
	if err != nil || n < 1 || n > 8 {
		return fmt.Errorf("extranonce2 size %v", size)
	}
	my.extraNonce1 = b
	my.extraNonce2Size = int(n)
	return nil
}
