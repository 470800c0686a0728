package stratum

import (
	"context"
	"errors"

	"asic_miner/jsonrpc"
	"asic_miner/log"
)

// XnSub asks for mining.set_extranonce notifications. Pools that do not
// support it are fine.
//
//	{"id": X, "method": "mining.extranonce.subscribe", "params": []}
func (my *Stratum) XnSub(ctx context.Context, c *jsonrpc.Client) error {
	resp, err := my.call(ctx, c, RequestTimeout, "mining.extranonce.subscribe", []string{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		return err
	}
	if resp.Error != nil {
		log.Infof("mining.extranonce.subscribe: %s", resp.ErrorString())
	}
	my.state.Store(STATE_XNSUB_DONE)
	return nil
}
