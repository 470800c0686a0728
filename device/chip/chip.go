// Package chip keeps per-chip bookkeeping for a board.
package chip

import (
	"sort"
	"sync"
	"time"

	"asic_miner/job"
	"asic_miner/util"
)

const CHIP_MAX = 256

// Chip is a snapshot of one ASIC on a chain.
type Chip struct {
	Index       int
	Address     uint8
	Family      string
	Enabled     bool
	Frequency   float64
	Nonces      uint64
	LastNonceTS float64
	UpSince     float64
	HitRate     float64
}

// Set tracks the chips of one chain. Safe for concurrent use.
type Set struct {
	mx     sync.Mutex
	chips  map[uint8]*Chip
	window map[uint8]*job.MovingWindow
	stray  uint64
}

func NewSet(family string, addrs []uint8, mhz float64) *Set {
	s := &Set{
		chips:  make(map[uint8]*Chip, len(addrs)),
		window: make(map[uint8]*job.MovingWindow, len(addrs)),
	}
	now := util.NowInSec()
	for i, a := range addrs {
		s.chips[a] = &Chip{Index: i, Address: a, Family: family, Enabled: true, Frequency: mhz, UpSince: now}
		s.window[a] = job.NewMovingWindow(10 * time.Minute)
	}
	return s
}

// Record counts a nonce reported at ticket difficulty diff.
func (my *Set) Record(n job.Nonce, diff float64) {
	my.mx.Lock()
	defer my.mx.Unlock()

	c, ok := my.chips[n.ChipAddress]
	if !ok {
		my.stray++
		return
	}
	c.Nonces++
	c.LastNonceTS = util.NowInSec()
	my.window[n.ChipAddress].Add(diff)
}

func (my *Set) SetFrequency(mhz float64) {
	my.mx.Lock()
	defer my.mx.Unlock()
	for _, c := range my.chips {
		c.Frequency = mhz
	}
}

// Stray counts nonces from addresses that were never enumerated.
func (my *Set) Stray() uint64 {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.stray
}

// Snapshot returns copies ordered by chain position.
func (my *Set) Snapshot() []Chip {
	my.mx.Lock()
	defer my.mx.Unlock()

	out := make([]Chip, 0, len(my.chips))
	for a, c := range my.chips {
		cp := *c
		cp.HitRate = my.window[a].HashRate()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (my *Set) Len() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return len(my.chips)
}
