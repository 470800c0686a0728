package block

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CalcCoinBaseHash is dsha256(coinb1 | extranonce1 | extranonce2 | coinb2).
func CalcCoinBaseHash(coinB1, extraNonce1, extraNonce2, coinB2 []byte) chainhash.Hash {
	tx := make([]byte, 0, len(coinB1)+len(extraNonce1)+len(extraNonce2)+len(coinB2))
	tx = append(tx, coinB1...)
	tx = append(tx, extraNonce1...)
	tx = append(tx, extraNonce2...)
	tx = append(tx, coinB2...)
	return chainhash.DoubleHashH(tx)
}

// CalcMerkleRootHash folds the stratum merkle branch onto the coinbase hash:
// h = dsha256(h | branch[i]) for each branch entry in order.
func CalcMerkleRootHash(coinbase chainhash.Hash, branch []chainhash.Hash) chainhash.Hash {
	h := coinbase
	var pair [64]byte
	for i := range branch {
		copy(pair[:32], h[:])
		copy(pair[32:], branch[i][:])
		h = chainhash.DoubleHashH(pair[:])
	}
	return h
}

func HeaderHash(bh *wire.BlockHeader) chainhash.Hash {
	return bh.BlockHash()
}
