package stratum

import (
	"time"

	"asic_miner/log"
	"asic_miner/util"
)

// handleReconnect follows client.reconnect within the same parent domain.
// With no params the same endpoint is redialed. my.mx held.
func (my *Stratum) handleReconnect(params []interface{}) {
	if len(params) >= 1 {
		host := util.ToString(params[0])
		domain := util.UrlToDomain(host)
		domain0 := util.UrlToDomain(my.Cfg.Host)
		if domain == "" || domain0 == "" || domain != domain0 {
			log.Infof("client.reconnect to %s ignored, not under %s", host, my.Cfg.Host)
			return
		}
		port := my.Cfg.Port
		if len(params) >= 2 {
			port = util.ToString(params[1])
		}
		my.Cfg.ParseURL(my.Cfg.Proto + "://" + host + ":" + port)
	}

	wait := uint(0)
	if len(params) >= 3 {
		if w, err := util.ToUint(params[2]); err == nil {
			wait = w
		}
	}
	my.reconnectAt = time.Now().Add(time.Duration(wait) * time.Second)
	log.Infof("client.reconnect to %s://%s after %ds", my.Cfg.Proto, my.Cfg.HostNPort, wait)

	if my.client != nil {
		// the reader goroutine is the caller; closing the conn ends it
		go my.client.Conn.Close()
	}
}
