package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapBytes(t *testing.T) {
	assert.Equal(t, "78563412f0debc9a", SwapBytes("123456789abcdef0"))
	assert.Equal(t, "", SwapBytes(""))
}

func TestBEHexToUint32(t *testing.T) {
	v, err := BEHexToUint32("20000000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20000000), v)

	_, err = BEHexToUint32("zz")
	assert.Error(t, err)
	_, err = BEHexToUint32("0102")
	assert.Error(t, err)
}

func TestUrlToDomain(t *testing.T) {
	assert.Equal(t, "braiins.com", UrlToDomain("stratum.braiins.com"))
	assert.Equal(t, "braiins.com", UrlToDomain("stratum+tcp://eu.stratum.braiins.com:3333"))
	assert.Equal(t, "", UrlToDomain("localhost"))
}

func TestToUint(t *testing.T) {
	v, err := ToUint(8.0)
	require.NoError(t, err)
	assert.Equal(t, uint(8), v)
	_, err = ToUint("x")
	assert.Error(t, err)
	assert.True(t, ToBool(true))
	assert.False(t, ToBool("true"))
}

func TestClosestPowerOf2(t *testing.T) {
	assert.Equal(t, uint64(1), ClosestPowerOf2(0))
	assert.Equal(t, uint64(1), ClosestPowerOf2(1))
	assert.Equal(t, uint64(256), ClosestPowerOf2(256))
	assert.Equal(t, uint64(256), ClosestPowerOf2(511))
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}, got)
	assert.Equal(t, 5, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestUptimeInString(t *testing.T) {
	saved := UpSince
	defer func() { UpSince = saved }()
	UpSince = time.Now().Add(-90*time.Second - 300*time.Millisecond)
	assert.Equal(t, "1m30s", UptimeInString())
}
