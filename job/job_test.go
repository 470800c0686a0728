package job

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate() *Template {
	prev := chainhash.DoubleHashH([]byte("prev"))
	return &Template{
		JobID:        "1f",
		PoolID:       0,
		Version:      0x20000000,
		VersionMask:  0x1fffe000,
		PrevHash:     prev,
		CoinB1:       []byte{0x01, 0x00, 0x00, 0x00},
		CoinB2:       []byte{0xff, 0xff, 0xff, 0xff},
		ExtraNonce1:  []byte{0xde, 0xad, 0xbe, 0xef},
		MerkleBranch: []chainhash.Hash{chainhash.DoubleHashH([]byte("tx"))},
		NTime:        0x66000000,
		NBits:        0x1703a30c,
	}
}

func newTestJob(t *testing.T, diff float64) *Job {
	en2, err := NewExtranonce2(4, 0)
	require.NoError(t, err)
	j, err := New(testTemplate(), en2, diff)
	require.NoError(t, err)
	return j
}

func TestNewCopiesTemplate(t *testing.T) {
	tpl := testTemplate()
	en2, _ := NewExtranonce2(4, 7)
	j, err := New(tpl, en2, 1)
	require.NoError(t, err)

	tpl.CoinB1[0] = 0x99
	tpl.MerkleBranch[0] = chainhash.Hash{}
	assert.Equal(t, byte(0x01), j.Template().CoinB1[0])
	assert.NotEqual(t, chainhash.Hash{}, j.MerkleBranch()[0])

	target := j.Target()
	target.SetInt64(0)
	assert.NotZero(t, j.Target().Sign())
}

func TestDeriveChangesMerkleRootAndTrace(t *testing.T) {
	j := newTestJob(t, 1)
	d, err := j.Derive()
	require.NoError(t, err)

	assert.NotEqual(t, j.TraceID, d.TraceID)
	assert.Equal(t, j.JobID, d.JobID)
	assert.Equal(t, uint64(1), d.ExtraNonce2.Value())
	assert.NotEqual(t, j.MerkleRoot, d.MerkleRoot)
	assert.Equal(t, uint64(0), j.ExtraNonce2.Value())
}

func TestNewNilTemplate(t *testing.T) {
	_, err := New(nil, Extranonce2{}, 1)
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestRolledVersion(t *testing.T) {
	j := newTestJob(t, 1)
	assert.Equal(t, uint32(0x20000000|0x00002000), j.RolledVersion(0x00002000))
	assert.Equal(t, uint32(0x20000000), j.RolledVersion(0xe0000000))
}

func TestValidateDeterministic(t *testing.T) {
	j := newTestJob(t, 1.0/(1<<24))
	found := Search(j, 0, 4096, j.Difficulty)
	require.NotEmpty(t, found)

	n := Nonce{Value: found[0], JobTrace: j.TraceID}
	r1, s1 := Validate(j, n)
	r2, s2 := Validate(j, n)
	assert.Equal(t, ResultShare, r1)
	assert.Equal(t, r1, r2)
	require.NotNil(t, s1)
	assert.Equal(t, s1.Hash, s2.Hash)
	assert.GreaterOrEqual(t, s1.Difficulty, j.Difficulty)
	assert.Equal(t, j, s1.Job)
}

func TestValidateBelowTarget(t *testing.T) {
	j := newTestJob(t, 1e12)
	r, s := Validate(j, Nonce{Value: 1, JobTrace: j.TraceID})
	assert.Equal(t, ResultBelowTarget, r)
	assert.Nil(t, s)
}

func TestValidateNotForJob(t *testing.T) {
	j := newTestJob(t, 1)
	other := newTestJob(t, 1)
	r, s := Validate(j, Nonce{Value: 1, JobTrace: other.TraceID})
	assert.Equal(t, ResultNotForJob, r)
	assert.Nil(t, s)

	r, _ = Validate(nil, Nonce{})
	assert.Equal(t, ResultNotForJob, r)
}

func TestShareHex(t *testing.T) {
	j := newTestJob(t, 1)
	s := &Share{Job: j, Nonce: Nonce{Value: 0x0a0b0c0d, Version: 0x20004000}}
	assert.Equal(t, "0a0b0c0d", s.NonceHex())
	assert.Equal(t, "66000000", s.NTimeHex())
	assert.Equal(t, "00004000", s.VersionBitsHex())
}

func TestExtranonce2(t *testing.T) {
	_, err := NewExtranonce2(0, 0)
	assert.ErrorIs(t, err, ErrExtranonce2Size)
	_, err = NewExtranonce2(9, 0)
	assert.ErrorIs(t, err, ErrExtranonce2Size)
	_, err = NewExtranonce2(1, 256)
	assert.ErrorIs(t, err, ErrExtranonce2Value)

	e, err := NewExtranonce2(4, 0x12345678)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, e.Bytes())
	assert.Equal(t, "78563412", e.Hex())

	e, _ = NewExtranonce2(1, 0xff)
	assert.Equal(t, uint64(0), e.Next().Value())
	e, _ = NewExtranonce2(8, ^uint64(0))
	assert.Equal(t, uint64(0), e.Next().Value())
	assert.Len(t, e.Bytes(), 8)
}

func TestMovingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewMovingWindow(10 * time.Second)
	w.now = func() time.Time { return now }

	w.Add(1)
	w.Add(2)
	assert.InDelta(t, 3*hashesPerDiff1/10, w.HashRate(), 1)

	now = now.Add(11 * time.Second)
	w.Add(4)
	assert.Equal(t, 1, w.Len())
	assert.InDelta(t, 4*hashesPerDiff1/10, w.HashRate(), 1)

	now = now.Add(20 * time.Second)
	assert.Zero(t, w.HashRate())
}
