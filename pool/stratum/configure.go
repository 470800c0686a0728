package stratum

import (
	"context"
	"errors"
	"fmt"

	"asic_miner/jsonrpc"
	"asic_miner/log"
	"asic_miner/util"
)

// Configure negotiates version rolling. Pools without mining.configure
// either time out or answer with an error; both leave rolling off.
func (my *Stratum) Configure(ctx context.Context, c *jsonrpc.Client) error {
	params := []interface{}{
		[]string{"version-rolling"},
		map[string]interface{}{
			"version-rolling.mask":          fmt.Sprintf("%08x", DefaultVersionRollingMask),
			"version-rolling.min-bit-count": DefaultVersionRollingBits,
		},
	}
	resp, err := my.call(ctx, c, ConfigureTimeout, "mining.configure", params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.Infof("%s: no answer to mining.configure, version rolling off", my.Cfg.URL)
			my.state.Store(STATE_CONFIGURE_DONE)
			return nil
		}
		return err
	}
	my.ConfigureResult(resp)
	my.state.Store(STATE_CONFIGURE_DONE)
	return nil
}

func (my *Stratum) ConfigureResult(resp jsonrpc.Response) {
	if resp.Error != nil {
		log.Debugf("mining.configure: %s", resp.ErrorString())
		return
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		log.Infof("mining.configure: unexpected result %v", resp.Result)
		return
	}

	my.mx.Lock()
	defer my.mx.Unlock()
	if !util.ToBool(m["version-rolling"]) {
		my.versionRolling = false
		return
	}
	mask, err := parseHex32(m["version-rolling.mask"])
	if err != nil {
		mask = DefaultVersionRollingMask
	}
	my.serverMask = mask & DefaultVersionRollingMask
	my.versionRolling = my.serverMask != 0
	log.Debugf("version rolling mask %08x", my.serverMask)
}
