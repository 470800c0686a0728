package pool

import (
	"asic_miner/config"
	"asic_miner/util"
)

const (
	MAX_POOL_SEQREJECT = 10
)

// Pool Status
const (
	STATUS_DISABLED = iota
	STATUS_ALIVE
	STATUS_REJECTING
	STATUS_UNREACHABLE
)

func StatusCode(s int) string {
	switch s {
	case STATUS_ALIVE:
		return "Alive"
	case STATUS_DISABLED:
		return "Disabled"
	case STATUS_REJECTING:
		return "Rejecting"
	case STATUS_UNREACHABLE:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// Entry is one configured pool and its health as the manager sees it.
type Entry struct {
	ID          uint
	Cfg         config.PoolEntryConfig
	Client      Client
	Priority    int
	Enabled     bool
	Unreachable bool
	SeqRejected int
	Accepted    uint64
	Rejected    uint64
	UpSince     float64
}

// Healthy pools are enabled, reachable and not rejecting in a row.
func (p *Entry) Healthy() bool {
	return p.Enabled && !p.Unreachable && p.SeqRejected <= MAX_POOL_SEQREJECT
}

func (p *Entry) Status() int {
	switch {
	case !p.Enabled:
		return STATUS_DISABLED
	case p.Unreachable:
		return STATUS_UNREACHABLE
	case p.SeqRejected > MAX_POOL_SEQREJECT:
		return STATUS_REJECTING
	}
	return STATUS_ALIVE
}

func (p *Entry) Uptime() float64 {
	return util.UptimeInSec(util.NowInSec(), p.UpSince)
}

func (p *Entry) Name() string {
	if p.Cfg.HostNPort != "" {
		return p.Cfg.HostNPort
	}
	return p.Cfg.URL
}
