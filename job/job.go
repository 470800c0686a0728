package job

import (
	"errors"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"

	"asic_miner/block"
)

var (
	ErrNoTemplate = errors.New("ErrNoTemplate")
)

// Template is the pool side work description a Job is derived from.
type Template struct {
	JobID        string
	PoolID       int
	Version      uint32
	VersionMask  uint32
	PrevHash     chainhash.Hash
	CoinB1       []byte
	CoinB2       []byte
	ExtraNonce1  []byte
	MerkleBranch []chainhash.Hash
	NTime        uint32
	NBits        uint32
	CleanJobs    bool
}

// Job is one unit of work. It is built once by New or Derive and never modified;
// a newer Job supersedes it.
type Job struct {
	TraceID     uuid.UUID
	JobID       string
	PoolID      int
	Version     uint32
	VersionMask uint32
	PrevHash    chainhash.Hash
	MerkleRoot  chainhash.Hash
	NTime       uint32
	NBits       uint32
	ExtraNonce2 Extranonce2
	Difficulty  float64
	NonceStart  uint32
	NonceRange  uint32
	CleanJobs   bool
	CreatedAt   time.Time

	coinB1       []byte
	coinB2       []byte
	extraNonce1  []byte
	merkleBranch []chainhash.Hash
	target       *big.Int
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// New builds a Job from a template, computing the merkle root for en2.
// The nonce space is the full 32 bit range.
func New(t *Template, en2 Extranonce2, difficulty float64) (*Job, error) {
	if t == nil {
		return nil, ErrNoTemplate
	}
	j := &Job{
		TraceID:      uuid.New(),
		JobID:        t.JobID,
		PoolID:       t.PoolID,
		Version:      t.Version,
		VersionMask:  t.VersionMask,
		PrevHash:     t.PrevHash,
		NTime:        t.NTime,
		NBits:        t.NBits,
		ExtraNonce2:  en2,
		Difficulty:   difficulty,
		NonceStart:   0,
		NonceRange:   0xffffffff,
		CleanJobs:    t.CleanJobs,
		CreatedAt:    time.Now(),
		coinB1:       cloneBytes(t.CoinB1),
		coinB2:       cloneBytes(t.CoinB2),
		extraNonce1:  cloneBytes(t.ExtraNonce1),
		merkleBranch: append([]chainhash.Hash(nil), t.MerkleBranch...),
		target:       block.TargetFromDifficulty(difficulty),
	}
	cb := block.CalcCoinBaseHash(j.coinB1, j.extraNonce1, en2.Bytes(), j.coinB2)
	j.MerkleRoot = block.CalcMerkleRootHash(cb, j.merkleBranch)
	return j, nil
}

func (my *Job) Template() *Template {
	return &Template{
		JobID:        my.JobID,
		PoolID:       my.PoolID,
		Version:      my.Version,
		VersionMask:  my.VersionMask,
		PrevHash:     my.PrevHash,
		CoinB1:       cloneBytes(my.coinB1),
		CoinB2:       cloneBytes(my.coinB2),
		ExtraNonce1:  cloneBytes(my.extraNonce1),
		MerkleBranch: my.MerkleBranch(),
		NTime:        my.NTime,
		NBits:        my.NBits,
		CleanJobs:    my.CleanJobs,
	}
}

// Derive returns a new Job for the same template with the next extranonce2.
// It gets a fresh trace id and never shares mutable state with my.
func (my *Job) Derive() (*Job, error) {
	t := my.Template()
	t.CleanJobs = false
	return New(t, my.ExtraNonce2.Next(), my.Difficulty)
}

func (my *Job) Target() *big.Int {
	return new(big.Int).Set(my.target)
}

func (my *Job) MerkleBranch() []chainhash.Hash {
	return append([]chainhash.Hash(nil), my.merkleBranch...)
}

func (my *Job) ExtraNonce1() []byte {
	return cloneBytes(my.extraNonce1)
}

func (my *Job) Age() time.Duration {
	return time.Since(my.CreatedAt)
}

func (my *Job) NetworkDifficulty() float64 {
	return block.NBitsToDifficulty(my.NBits)
}

// RolledVersion ORs the rolled bits the chip reports into the base version.
// Bits outside the version mask are ignored.
func (my *Job) RolledVersion(bits uint32) uint32 {
	return my.Version | (bits & my.VersionMask)
}
