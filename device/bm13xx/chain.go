// Package bm13xx speaks the serial protocol of the BM13xx family of
// SHA256 ASICs over a board's data channel.
package bm13xx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"asic_miner/device/hwerr"
	"asic_miner/device/transport"
	"asic_miner/job"
	"asic_miner/log"
)

var ErrFrequencyPending = errors.New("ErrFrequencyPending")

// Target picks a single chip by address or the whole chain.
type Target int

const Broadcast Target = -1

func Chip(addr uint8) Target { return Target(addr) }

func (t Target) String() string {
	if t == Broadcast {
		return "broadcast"
	}
	return fmt.Sprintf("chip@%d", int(t))
}

type Config struct {
	BoardID      string
	Family       Family
	Length       int
	EnumWindow   time.Duration
	DedupeWindow time.Duration
}

func (my *Config) defaults() {
	if my.EnumWindow <= 0 {
		my.EnumWindow = 100 * time.Millisecond
	}
	if my.DedupeWindow <= 0 {
		my.DedupeWindow = 10 * time.Second
	}
	if my.Length <= 0 {
		my.Length = 1
	}
}

type Stats struct {
	Nonces       uint64
	Corrupt      uint64
	Skipped      uint64
	Duplicates   uint64
	UnknownJobID uint64
	JobsSent     uint64
}

type dedupeKey struct {
	trace   uuid.UUID
	nonce   uint32
	version uint32
}

// Chain owns the data port of one board.
type Chain struct {
	cfg   Config
	port  transport.Port
	table *JobTable
	log   *log.Logger

	sendMx sync.Mutex
	pollMx sync.Mutex
	dec    Decoder
	seen   map[dedupeKey]time.Time

	addrs    atomic.Pointer[[]uint8]
	pending  atomic.Bool
	mhz      atomic.Uint64
	nonces   atomic.Uint64
	corrupt  atomic.Uint64
	dups     atomic.Uint64
	unknown  atomic.Uint64
	jobsSent atomic.Uint64
	skipped  atomic.Uint64
}

func NewChain(port transport.Port, cfg Config) *Chain {
	cfg.defaults()
	return &Chain{
		cfg:   cfg,
		port:  port,
		table: NewJobTable(),
		seen:  make(map[dedupeKey]time.Time),
		log:   log.With("board", cfg.BoardID, "chain", port.Name()),
	}
}

func (my *Chain) write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := my.port.Write(frame); err != nil {
		return err
	}
	return nil
}

// Addresses is nil until enumeration succeeded.
func (my *Chain) Addresses() []uint8 {
	p := my.addrs.Load()
	if p == nil {
		return nil
	}
	return append([]uint8(nil), (*p)...)
}

func (my *Chain) enumerated() bool { return my.addrs.Load() != nil }

// EnumerateChips counts the chips answering a broadcast ChipID read and
// hands out evenly spaced addresses.
func (my *Chain) EnumerateChips(ctx context.Context) ([]uint8, error) {
	my.pollMx.Lock()
	defer my.pollMx.Unlock()

	transport.Drain(my.port)
	my.dec = Decoder{}
	if err := my.write(ctx, ReadRegister(0, RegChipID, true)); err != nil {
		return nil, err
	}

	found := 0
	var badID uint16
	deadline := time.Now().Add(my.cfg.EnumWindow)
	buf := make([]byte, 256)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := my.port.Read(buf, left)
		if err != nil {
			if errors.Is(err, hwerr.ErrTimeout) {
				break
			}
			return nil, err
		}
		my.dec.Feed(buf[:n])
		for {
			r, ok, err := my.dec.Next()
			if err != nil {
				my.corrupt.Add(1)
				continue
			}
			if !ok {
				break
			}
			if r.Kind != KindRegister || r.Reg != RegChipID {
				continue
			}
			found++
			if id := uint16(r.Value >> 16); id != my.cfg.Family.ChipID {
				badID = id
			}
		}
	}

	switch {
	case found == 0:
		return nil, &hwerr.EnumerationError{Expected: my.cfg.Length, Found: 0, Reason: "no chip answered"}
	case badID != 0:
		return nil, &hwerr.EnumerationError{Expected: my.cfg.Length, Found: found,
			Reason: fmt.Sprintf("chip id 0x%04x is not %s", badID, my.cfg.Family.Name)}
	case found != my.cfg.Length:
		return nil, &hwerr.EnumerationError{Expected: my.cfg.Length, Found: found, Reason: "chain length mismatch"}
	}

	if err := my.write(ctx, ChainInactive()); err != nil {
		return nil, err
	}
	interval := 256 / found
	addrs := make([]uint8, found)
	for i := range addrs {
		addrs[i] = uint8(i * interval)
		if err := my.write(ctx, SetChipAddress(addrs[i])); err != nil {
			return nil, err
		}
	}
	my.addrs.Store(&addrs)
	my.log.Infof("enumerated %d %s chips, addresses %v", found, my.cfg.Family.Name, addrs)
	return append([]uint8(nil), addrs...), nil
}

func (my *Chain) checkTarget(t Target) error {
	if !my.enumerated() {
		return hwerr.Invalid("target", t, "chain not enumerated")
	}
	if t == Broadcast {
		return nil
	}
	for _, a := range *my.addrs.Load() {
		if Target(a) == t {
			return nil
		}
	}
	return hwerr.Invalid("target", t, "no chip at that address")
}

func (my *Chain) writeRegister(ctx context.Context, t Target, reg uint8, v uint32) error {
	if t == Broadcast {
		return my.write(ctx, WriteRegister(0, reg, v, true))
	}
	return my.write(ctx, WriteRegister(uint8(t), reg, v, false))
}

// SetFrequency programs PLL0. Out of range or unreachable frequencies are
// refused, never clamped.
func (my *Chain) SetFrequency(ctx context.Context, t Target, mhz float64) error {
	if err := my.checkTarget(t); err != nil {
		return err
	}
	if mhz < my.cfg.Family.MinMHz || mhz > my.cfg.Family.MaxMHz {
		return hwerr.Invalid("frequency", mhz,
			fmt.Sprintf("outside %v..%v MHz", my.cfg.Family.MinMHz, my.cfg.Family.MaxMHz))
	}
	pll, ok := SolvePLL(mhz)
	if !ok {
		return hwerr.Invalid("frequency", mhz, "no PLL solution")
	}
	if !my.pending.CompareAndSwap(false, true) {
		return ErrFrequencyPending
	}
	defer my.pending.Store(false)

	if err := my.writeRegister(ctx, t, RegPLL0, pll.Register()); err != nil {
		return err
	}
	if t == Broadcast {
		my.mhz.Store(uint64(pll.MHz * 1000))
	}
	my.log.Debugf("%v frequency %.2f MHz (fb %d ref %d post %d/%d)", t, pll.MHz, pll.FB, pll.Ref, pll.Post1, pll.Post2)
	return nil
}

func (my *Chain) FrequencyMHz() float64 {
	return float64(my.mhz.Load()) / 1000
}

func (my *Chain) SetTicketDifficulty(ctx context.Context, diff float64) error {
	if err := my.checkTarget(Broadcast); err != nil {
		return err
	}
	return my.writeRegister(ctx, Broadcast, RegTicketMask, TicketMask(diff))
}

func (my *Chain) SetVersionMask(ctx context.Context, mask uint32) error {
	if err := my.checkTarget(Broadcast); err != nil {
		return err
	}
	return my.writeRegister(ctx, Broadcast, RegVersionMask, VersionMaskRegister(mask))
}

// SendJob writes the work frame and returns without waiting for results.
// Work frames reach every chip on the chain.
func (my *Chain) SendJob(ctx context.Context, t Target, j *job.Job) error {
	if err := my.checkTarget(t); err != nil {
		return err
	}
	if j == nil {
		return hwerr.Invalid("job", nil, "nil job")
	}
	my.sendMx.Lock()
	defer my.sendMx.Unlock()

	id := my.table.Add(j)
	w := Work{
		JobID:         id,
		NumMidstates:  1,
		StartingNonce: j.NonceStart,
		NBits:         j.NBits,
		NTime:         j.NTime,
		MerkleRoot:    j.MerkleRoot,
		PrevHash:      j.PrevHash,
		Version:       j.Version,
	}
	if err := my.write(ctx, EncodeWork(w)); err != nil {
		return err
	}
	my.jobsSent.Add(1)
	my.log.Debugf("sent job %s as id %d", j.JobID, id)
	return nil
}

// PollNonces drains whatever the chips have sent. Corrupt frames and
// results for unknown job ids are counted and dropped.
func (my *Chain) PollNonces(ctx context.Context) ([]job.Nonce, error) {
	my.pollMx.Lock()
	defer my.pollMx.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	for i := 0; i < 64; i++ {
		n, err := my.port.Read(buf, 0)
		if err != nil {
			if errors.Is(err, hwerr.ErrTimeout) {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
		my.dec.Feed(buf[:n])
	}

	now := time.Now()
	my.prune(now)
	var out []job.Nonce
	for {
		r, ok, err := my.dec.Next()
		if err != nil {
			my.corrupt.Add(1)
			my.log.Debugf("dropped frame: %v", err)
			continue
		}
		if !ok {
			break
		}
		if r.Kind != KindNonce {
			continue
		}
		j := my.table.Find(r.JobID)
		if j == nil {
			my.unknown.Add(1)
			continue
		}
		nonce := job.Nonce{
			Value:       r.Value,
			JobTrace:    j.TraceID,
			ChipAddress: r.Chip,
			BoardID:     my.cfg.BoardID,
			Version:     j.RolledVersion(r.VersionBits),
			NTime:       j.NTime,
			ReceivedAt:  now,
		}
		key := dedupeKey{trace: j.TraceID, nonce: nonce.Value, version: nonce.Version}
		if _, dup := my.seen[key]; dup {
			my.dups.Add(1)
			continue
		}
		my.seen[key] = now
		my.nonces.Add(1)
		out = append(out, nonce)
	}
	my.skipped.Store(my.dec.Skipped)
	return out, nil
}

func (my *Chain) prune(now time.Time) {
	for k, t := range my.seen {
		if now.Sub(t) > my.cfg.DedupeWindow {
			delete(my.seen, k)
		}
	}
}

func (my *Chain) JobTable() *JobTable { return my.table }

func (my *Chain) Stats() Stats {
	return Stats{
		Nonces:       my.nonces.Load(),
		Corrupt:      my.corrupt.Load(),
		Skipped:      my.skipped.Load(),
		Duplicates:   my.dups.Load(),
		UnknownJobID: my.unknown.Load(),
		JobsSent:     my.jobsSent.Load(),
	}
}
