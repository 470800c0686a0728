package job

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"

	"asic_miner/block"
)

// Nonce is a raw hardware result tied to the Job it was produced against.
type Nonce struct {
	Value       uint32
	JobTrace    uuid.UUID
	ChipAddress uint8
	BoardID     string
	// Version is the full header version, rolled bits already applied.
	Version    uint32
	NTime      uint32
	ReceivedAt time.Time
}

func (n Nonce) String() string {
	return fmt.Sprintf("nonce %08x ver %08x chip %d board %s job %s",
		n.Value, n.Version, n.ChipAddress, n.BoardID, n.JobTrace)
}

// Share is a nonce that met the pool target after local verification.
type Share struct {
	Job        *Job
	Nonce      Nonce
	Hash       chainhash.Hash
	Difficulty float64
}

func (my *Share) NonceHex() string {
	return fmt.Sprintf("%08x", my.Nonce.Value)
}

func (my *Share) NTimeHex() string {
	return fmt.Sprintf("%08x", my.ntime())
}

// VersionBitsHex is the rolled part of the version as stratum expects it.
func (my *Share) VersionBitsHex() string {
	return fmt.Sprintf("%08x", my.Nonce.Version&my.Job.VersionMask)
}

func (my *Share) ntime() uint32 {
	if my.Nonce.NTime != 0 {
		return my.Nonce.NTime
	}
	return my.Job.NTime
}

type Result int

const (
	ResultShare Result = iota
	ResultBelowTarget
	ResultNotForJob
)

func (r Result) String() string {
	switch r {
	case ResultShare:
		return "share"
	case ResultBelowTarget:
		return "below-target"
	case ResultNotForJob:
		return "not-for-job"
	}
	return "unknown"
}

// Hash rebuilds the header for n against j and returns its double sha256.
func Hash(j *Job, n Nonce) chainhash.Hash {
	version := n.Version
	if version == 0 {
		version = j.Version
	}
	ntime := n.NTime
	if ntime == 0 {
		ntime = j.NTime
	}
	bh := block.NewHeader(version, j.PrevHash, j.MerkleRoot, ntime, j.NBits, n.Value)
	return block.HeaderHash(bh)
}

// Validate re-hashes n locally and checks it against the job target.
// Same inputs give the same result; nothing is recorded.
func Validate(j *Job, n Nonce) (Result, *Share) {
	if j == nil || n.JobTrace != j.TraceID {
		return ResultNotForJob, nil
	}
	h := Hash(j, n)
	if !block.HashMeetsTarget(&h, j.target) {
		return ResultBelowTarget, nil
	}
	return ResultShare, &Share{
		Job:        j,
		Nonce:      n,
		Hash:       h,
		Difficulty: block.HashDifficulty(&h),
	}
}

// Search scans [start, start+count) for nonces reaching diff at the job's
// base version. Used by simulators and tests; real work is done by the chips.
func Search(j *Job, start, count uint32, diff float64) []uint32 {
	var found []uint32
	t := block.TargetFromDifficulty(diff)
	n := Nonce{JobTrace: j.TraceID}
	for i := uint32(0); i < count; i++ {
		n.Value = start + i
		h := Hash(j, n)
		if block.HashMeetsTarget(&h, t) {
			found = append(found, n.Value)
		}
	}
	return found
}
