package block

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Diff1Bits is the compact form of the difficulty 1 target.
const Diff1Bits = 0x1d00ffff

var (
	maxTarget      = blockchain.CompactToBig(Diff1Bits)
	maxTargetFloat = new(big.Float).SetInt(maxTarget)
)

func MaxTarget() *big.Int {
	return new(big.Int).Set(maxTarget)
}

// TargetFromDifficulty returns MAX_TARGET / diff. Non-positive difficulty maps to MAX_TARGET.
func TargetFromDifficulty(diff float64) *big.Int {
	if diff <= 0 || math.IsNaN(diff) || math.IsInf(diff, 0) {
		return MaxTarget()
	}
	q := new(big.Float).Quo(maxTargetFloat, big.NewFloat(diff))
	t, _ := q.Int(nil)
	if t.Sign() == 0 {
		t.SetInt64(1)
	}
	return t
}

// DifficultyFromTarget is the inverse of TargetFromDifficulty.
func DifficultyFromTarget(target *big.Int) float64 {
	if target.Sign() <= 0 {
		return math.Inf(1)
	}
	d, _ := new(big.Float).Quo(maxTargetFloat, new(big.Float).SetInt(target)).Float64()
	return d
}

// HashDifficulty is the difficulty a header hash achieves.
func HashDifficulty(hash *chainhash.Hash) float64 {
	return DifficultyFromTarget(blockchain.HashToBig(hash))
}

func HashMeetsTarget(hash *chainhash.Hash, target *big.Int) bool {
	return blockchain.HashToBig(hash).Cmp(target) <= 0
}

func NBitsToTarget(nbits uint32) *big.Int {
	return blockchain.CompactToBig(nbits)
}

func NBitsToDifficulty(nbits uint32) float64 {
	return DifficultyFromTarget(blockchain.CompactToBig(nbits))
}

func TargetToNBits(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}
