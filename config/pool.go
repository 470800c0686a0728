package config

import (
	"strings"
)

type PoolEntryConfig struct {
	URL          string
	Proto        string
	HostNPort    string
	Host         string
	Port         string
	XnSub        bool
	User         string
	Pass         string
	NetworkProto string
	Valid        bool
}

const (
	StratumPrefix   = "stratum+tcp"
	MAX_POOL_NUMBER = 3
)

// ParseURL splits stratum+tcp://host:port#xnsub into its parts and sets Valid.
func (my *PoolEntryConfig) ParseURL(myURL string) {
	x := strings.Split(myURL, "#")
	my.XnSub = len(x) > 1 && x[1] == "xnsub"
	if !my.XnSub && strings.Contains(myURL, "nicehash") {
		my.XnSub = true
	}

	a := strings.Split(x[0], "://")
	switch len(a) {
	case 1:
		my.Proto = ""
		my.HostNPort = a[0]
	case 2:
		my.Proto = a[0]
		my.HostNPort = a[1]
	default:
		my.Proto = ""
		my.HostNPort = ""
	}

	s := strings.Split(my.HostNPort, ":")
	switch len(s) {
	case 1:
		my.Host = s[0]
		my.Port = "3333"
	case 2:
		my.Host = s[0]
		my.Port = s[1]
	default:
		my.Host = ""
		my.Port = ""
	}
	my.HostNPort = my.Host + ":" + my.Port

	if my.Proto == "" {
		my.Proto = StratumPrefix
	}
	my.NetworkProto = "tcp"

	my.Valid = my.Proto == StratumPrefix &&
		my.User != "" && my.Host != "" && my.Port != ""
}

func (my *PoolEntryConfig) Parse() {
	my.ParseURL(my.URL)
}

func (my *PoolEntryConfig) Equal(cfg *PoolEntryConfig) bool {
	return my.URL == cfg.URL && my.User == cfg.User && my.Pass == cfg.Pass
}
