package block

import (
	"bytes"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var ErrBytesLenNot80 = errors.New("ErrBytesLenNot80")

const HeaderSize = 80

func NewHeader(version uint32, prevHash, merkleRoot chainhash.Hash, ntime, nbits, nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    int32(version),
		PrevBlock:  prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  time.Unix(int64(ntime), 0),
		Bits:       nbits,
		Nonce:      nonce,
	}
}

func HeaderBytes(bh *wire.BlockHeader) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// only fails on a broken writer
	_ = bh.Serialize(&buf)
	return buf.Bytes()
}

func HeaderFromBytes(b []byte) (*wire.BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, ErrBytesLenNot80
	}
	var bh wire.BlockHeader
	if err := bh.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &bh, nil
}

// SwapByteInSHA256 reverses a 32 byte hash between internal and display order.
func SwapByteInSHA256(sha_in []byte) []byte {
	if len(sha_in) != 32 {
		return nil
	}
	sha_out := make([]byte, 32)
	for i := 0; i < 32; i++ {
		sha_out[i] = sha_in[31-i]
	}
	return sha_out
}
