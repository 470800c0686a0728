package stratum

import (
	"context"
	"fmt"

	"asic_miner/jsonrpc"
	"asic_miner/util"
)

func (my *Stratum) Authorize(ctx context.Context, c *jsonrpc.Client) error {
	resp, err := my.call(ctx, c, RequestTimeout, "mining.authorize", []string{my.Cfg.User, my.Cfg.Pass})
	if err != nil {
		return my.required(ctx, err)
	}
	if !util.ToBool(resp.Result) {
		reason := resp.ErrorString()
		if reason == "" {
			reason = "worker " + my.Cfg.User
		}
		return my.connErr(fmt.Errorf("%s: %w", reason, ErrAuthorize))
	}
	return nil
}
