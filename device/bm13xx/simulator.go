package bm13xx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"asic_miner/block"
	"asic_miner/device/hwerr"
	"asic_miner/device/transport"
)

type SimConfig struct {
	Chips  int
	Family Family
	// ChipID overrides the family id in ChipID answers when non-zero.
	ChipID uint16
	// MineDifficulty makes every received job produce real nonces at this
	// difficulty within MineSpan nonces of the starting nonce. Zero disables.
	MineDifficulty float64
	MineSpan       uint32
}

type simChip struct {
	addr     uint8
	assigned bool
	regs     map[uint8]uint32
}

// Simulator is a data port with a chain of chips behind it.
type Simulator struct {
	mx       sync.Mutex
	name     string
	cfg      SimConfig
	chips    []*simChip
	inactive bool
	in       []byte
	out      *transport.Queue
	closed   bool
	silent   bool
	jobs     []Work
	writes   []Response
	corrupt  int
}

func NewSimulator(name string, cfg SimConfig) *Simulator {
	if cfg.MineSpan == 0 {
		cfg.MineSpan = 4096
	}
	s := &Simulator{name: name, cfg: cfg, out: transport.NewQueue()}
	for i := 0; i < cfg.Chips; i++ {
		s.chips = append(s.chips, &simChip{regs: make(map[uint8]uint32)})
	}
	return s
}

func (my *Simulator) Name() string { return my.name }

func (my *Simulator) SetSilent(silent bool) {
	my.mx.Lock()
	defer my.mx.Unlock()
	my.silent = silent
}

// Jobs lists every work frame received, oldest first.
func (my *Simulator) Jobs() []Work {
	my.mx.Lock()
	defer my.mx.Unlock()
	return append([]Work(nil), my.jobs...)
}

func (my *Simulator) LastJob() (Work, bool) {
	my.mx.Lock()
	defer my.mx.Unlock()
	if len(my.jobs) == 0 {
		return Work{}, false
	}
	return my.jobs[len(my.jobs)-1], true
}

// Addresses reports the addresses assigned so far, in chain order.
func (my *Simulator) Addresses() []uint8 {
	my.mx.Lock()
	defer my.mx.Unlock()
	var out []uint8
	for _, c := range my.chips {
		if c.assigned {
			out = append(out, c.addr)
		}
	}
	return out
}

// Register returns what the chip at index i holds for reg.
func (my *Simulator) Register(i int, reg uint8) uint32 {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.chips[i].regs[reg]
}

// Writes lists register writes as (chip, reg, value) in arrival order.
func (my *Simulator) Writes() []Response {
	my.mx.Lock()
	defer my.mx.Unlock()
	return append([]Response(nil), my.writes...)
}

func (my *Simulator) CorruptFrames() int {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.corrupt
}

func (my *Simulator) InjectNonce(chip, jobID uint8, nonce, versionBits uint32) {
	my.out.Push(EncodeResponse(Response{Kind: KindNonce, Chip: chip, JobID: jobID, Value: nonce, VersionBits: versionBits}))
}

func (my *Simulator) InjectRaw(p []byte) {
	my.out.Push(p)
}

func (my *Simulator) Read(buf []byte, timeout time.Duration) (int, error) {
	return my.out.Read(my.name, buf, timeout)
}

func (my *Simulator) Write(p []byte) (int, error) {
	my.mx.Lock()
	if my.closed {
		my.mx.Unlock()
		return 0, fmt.Errorf("%s: %w", my.name, hwerr.ErrClosed)
	}
	my.in = append(my.in, p...)
	var replies [][]byte
	for {
		frame, ok := my.nextFrame()
		if !ok {
			break
		}
		replies = append(replies, my.handle(frame)...)
	}
	silent := my.silent
	my.mx.Unlock()

	if !silent {
		for _, r := range replies {
			my.out.Push(r)
		}
	}
	return len(p), nil
}

func (my *Simulator) nextFrame() ([]byte, bool) {
	idx := bytes.Index(my.in, cmdPreamble)
	if idx < 0 {
		my.in = my.in[:0]
		return nil, false
	}
	my.in = my.in[idx:]
	if len(my.in) < 4 {
		return nil, false
	}
	total := int(my.in[3]) + 2
	if len(my.in) < total {
		return nil, false
	}
	frame := append([]byte(nil), my.in[:total]...)
	my.in = my.in[total:]
	return frame, true
}

func (my *Simulator) handle(frame []byte) [][]byte {
	n := len(frame)
	if n < 7 {
		my.corrupt++
		return nil
	}
	if frame[2] == typeWork {
		w, err := DecodeWork(frame)
		if err != nil {
			my.corrupt++
			return nil
		}
		my.jobs = append(my.jobs, w)
		return my.mine(w)
	}
	if CRC5(frame[2:n-1]) != frame[n-1] || frame[2]&0xe0 != typeCommand {
		my.corrupt++
		return nil
	}
	broadcast := frame[2]&typeBroadcast != 0
	payload := frame[4 : n-1]
	switch frame[2] & 0x0f {
	case CmdChainInactive:
		my.inactive = true
	case CmdSetAddress:
		for _, c := range my.chips {
			if !c.assigned {
				c.addr, c.assigned = payload[0], true
				break
			}
		}
	case CmdWriteRegister:
		if len(payload) != 6 {
			my.corrupt++
			return nil
		}
		v := binary.BigEndian.Uint32(payload[2:])
		for _, c := range my.target(broadcast, payload[0]) {
			c.regs[payload[1]] = v
			my.writes = append(my.writes, Response{Chip: c.addr, Reg: payload[1], Value: v})
		}
	case CmdReadRegister:
		var out [][]byte
		for _, c := range my.target(broadcast, payload[0]) {
			v := c.regs[payload[1]]
			if payload[1] == RegChipID {
				id := my.cfg.Family.ChipID
				if my.cfg.ChipID != 0 {
					id = my.cfg.ChipID
				}
				v = uint32(id) << 16
			}
			out = append(out, EncodeResponse(Response{Kind: KindRegister, Chip: c.addr, Reg: payload[1], Value: v}))
		}
		return out
	}
	return nil
}

func (my *Simulator) target(broadcast bool, addr uint8) []*simChip {
	if broadcast {
		return my.chips
	}
	for _, c := range my.chips {
		if c.assigned && c.addr == addr {
			return []*simChip{c}
		}
	}
	return nil
}

// mine hashes the job the way the chips would and answers with the nonces
// meeting MineDifficulty, spread across chips.
func (my *Simulator) mine(w Work) [][]byte {
	if my.cfg.MineDifficulty <= 0 || len(my.chips) == 0 {
		return nil
	}
	target := block.TargetFromDifficulty(my.cfg.MineDifficulty)
	prev := chainhash.Hash(w.PrevHash)
	merkle := chainhash.Hash(w.MerkleRoot)
	var out [][]byte
	for i := uint32(0); i < my.cfg.MineSpan; i++ {
		nonce := w.StartingNonce + i
		h := block.HeaderHash(block.NewHeader(w.Version, prev, merkle, w.NTime, w.NBits, nonce))
		if !block.HashMeetsTarget(&h, target) {
			continue
		}
		c := my.chips[int(nonce)%len(my.chips)]
		out = append(out, EncodeResponse(Response{Kind: KindNonce, Chip: c.addr, JobID: w.JobID, Value: nonce}))
	}
	return out
}

func (my *Simulator) Close() error {
	my.mx.Lock()
	my.closed = true
	my.mx.Unlock()
	my.out.Close()
	return nil
}

func (my *Simulator) Closed() bool {
	my.mx.Lock()
	defer my.mx.Unlock()
	return my.closed
}
