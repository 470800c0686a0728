package pool

import (
	"fmt"
	"sync"

	"asic_miner/config"
	"asic_miner/log"
	"asic_miner/util"
)

// Manager orders pools by priority and tracks their health. Safe for
// concurrent use.
type Manager struct {
	mx    sync.Mutex
	Pools []*Entry
	SeqNo uint
}

func NewManager() *Manager {
	return &Manager{SeqNo: 1}
}

// AddPool appends a pool at the lowest priority.
func (my *Manager) AddPool(cfg config.PoolEntryConfig, c Client) (uint, error) {
	my.mx.Lock()
	defer my.mx.Unlock()

	total := len(my.Pools)
	if total >= config.MAX_POOL_NUMBER {
		return 0, ErrTooManyPool
	}
	if c == nil {
		return 0, fmt.Errorf("%s: no client: %w", cfg.URL, ErrInvalidPool)
	}

	p := &Entry{
		ID:       uint(total),
		Cfg:      cfg,
		Client:   c,
		Priority: total,
		Enabled:  true,
		UpSince:  util.NowInSec(),
	}
	my.SeqNo++
	my.Pools = append(my.Pools, p)
	log.Debugf("added pool %d %s, total %d", p.ID, p.Name(), len(my.Pools))
	return p.ID, nil
}

func (my *Manager) Len() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return len(my.Pools)
}

func (my *Manager) get(id uint) (*Entry, error) {
	if int(id) >= len(my.Pools) {
		return nil, ErrPoolNotExist
	}
	return my.Pools[id], nil
}

func (my *Manager) EnablePool(id uint) error {
	my.mx.Lock()
	defer my.mx.Unlock()
	p, err := my.get(id)
	if err != nil {
		return err
	}
	p.Enabled = true
	return nil
}

func (my *Manager) DisablePool(id uint) error {
	my.mx.Lock()
	defer my.mx.Unlock()
	p, err := my.get(id)
	if err != nil {
		return err
	}
	p.Enabled = false
	return nil
}

func (my *Manager) findPoolWithPriority(prio int) *Entry {
	if prio < 0 || prio >= len(my.Pools) || prio >= config.MAX_POOL_NUMBER {
		return nil
	}
	for _, v := range my.Pools {
		if v.Priority == prio {
			return v
		}
	}
	return nil
}

// SchedulePool picks the first healthy enabled pool by priority, else the
// first enabled one that is not healthy, else nil.
func (my *Manager) SchedulePool() *Entry {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.schedule()
}

func (my *Manager) schedule() *Entry {
	// pool1, enabled and healthy
	var pool1 *Entry
	// pool2, enabled but not healthy
	var pool2 *Entry

	for prio := 0; prio < config.MAX_POOL_NUMBER; prio++ {
		p := my.findPoolWithPriority(prio)
		if p == nil || !p.Enabled {
			continue
		}
		if p.Healthy() {
			if pool1 == nil {
				pool1 = p
			}
		} else if pool2 == nil {
			pool2 = p
		}
	}
	if pool1 != nil {
		return pool1
	}
	return pool2
}

// NextHealthy is the first healthy pool other than id, nil if none.
func (my *Manager) NextHealthy(id uint) *Entry {
	my.mx.Lock()
	defer my.mx.Unlock()
	for prio := 0; prio < config.MAX_POOL_NUMBER; prio++ {
		p := my.findPoolWithPriority(prio)
		if p != nil && p.ID != id && p.Healthy() {
			return p
		}
	}
	return nil
}

func (my *Manager) MarkUnreachable(id uint) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if p, err := my.get(id); err == nil {
		if !p.Unreachable {
			log.Warnf("pool %d %s unreachable", p.ID, p.Name())
		}
		p.Unreachable = true
	}
}

func (my *Manager) MarkRejected(id uint) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if p, err := my.get(id); err == nil {
		p.Rejected++
		p.SeqRejected++
		if p.SeqRejected == MAX_POOL_SEQREJECT+1 {
			log.Warnf("pool %d %s rejected %d shares in a row", p.ID, p.Name(), p.SeqRejected)
		}
	}
}

func (my *Manager) MarkAccepted(id uint) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if p, err := my.get(id); err == nil {
		p.Accepted++
		p.SeqRejected = 0
		p.Unreachable = false
	}
}

// ResetHealth forgets every failure so all pools get another chance.
func (my *Manager) ResetHealth() {
	my.mx.Lock()
	defer my.mx.Unlock()
	for _, p := range my.Pools {
		p.Unreachable = false
		p.SeqRejected = 0
	}
}

// GetPool returns a copy of the entry.
func (my *Manager) GetPool(id uint) (Entry, error) {
	my.mx.Lock()
	defer my.mx.Unlock()
	p, err := my.get(id)
	if err != nil {
		return Entry{}, err
	}
	return *p, nil
}

// Snapshot copies every entry in priority order.
func (my *Manager) Snapshot() []Entry {
	my.mx.Lock()
	defer my.mx.Unlock()
	out := make([]Entry, 0, len(my.Pools))
	for prio := 0; prio < len(my.Pools); prio++ {
		if p := my.findPoolWithPriority(prio); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Close closes every client and reports the first error.
func (my *Manager) Close() error {
	my.mx.Lock()
	defer my.mx.Unlock()
	var first error
	for _, p := range my.Pools {
		if err := p.Client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
