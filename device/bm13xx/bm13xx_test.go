package bm13xx

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asic_miner/device/hwerr"
	"asic_miner/job"
)

func unhex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestCommandVectors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"read_register_0", ReadRegister(0, RegChipID, true), "55aa520500000a"},
		{"set_baud", WriteRegister(0, RegUARTBaud, 0x11300200, true), "55aa510900281130020003"},
		{"set_chip_address_00", SetChipAddress(0x00), "55aa400500001c"},
		{"set_chip_address_08", SetChipAddress(0x08), "55aa4005080007"},
		{"chain_inactive", ChainInactive(), "55aa5305000003"},
		{"write_version_mask", WriteRegister(0, RegVersionMask, VersionMaskRegister(0x1fffe000), true), "55aa510900a49000ffff1c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hex.EncodeToString(tt.frame))
		})
	}
}

func TestCRC5Residue(t *testing.T) {
	// chip id response of a single BM1397 style chip
	assert.Zero(t, CRC5(unhex(t, "13700000000006")))
	assert.NotZero(t, CRC5(unhex(t, "13700000000007")))
}

const workVector = "55aa2156" +
	"1801" + "00000000" + "38fa0117" + "dc17d668" +
	"1516ab3d1642bb1fe2e2377f8ac583e5da996c6bc7053eae564b0203cc4ed237" +
	"0000000000000000a25c0000a1e7ab5e5f2446a35f9cbbea3f5316e54e3993de" +
	"00000020" + "6b18"

func TestWorkVector(t *testing.T) {
	frame := unhex(t, workVector)
	require.Len(t, frame, WorkFrameLen)
	assert.Equal(t, uint16(0x6b18), CRC16(frame[2:86]))

	w := Work{
		JobID:         0x18,
		NumMidstates:  1,
		StartingNonce: 0,
		NBits:         0x1701fa38,
		NTime:         0x68d617dc,
		Version:       0x20000000,
	}
	copy(w.MerkleRoot[:], frame[18:50])
	copy(w.PrevHash[:], frame[50:82])
	assert.Equal(t, frame, EncodeWork(w))

	got, err := DecodeWork(frame)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	frame[40] ^= 0x01
	_, err = DecodeWork(frame)
	assert.ErrorIs(t, err, hwerr.ErrCorruptFrame)
}

func TestResponseDecode(t *testing.T) {
	var d Decoder
	d.Feed(EncodeResponse(Response{Kind: KindNonce, Chip: 64, JobID: 0x28, Core: 3, Value: 0xdeadbeef, VersionBits: 0x00ffe000}))
	d.Feed(EncodeResponse(Response{Kind: KindRegister, Chip: 0, Reg: RegChipID, Value: 0x13700000}))

	r, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindNonce, r.Kind)
	assert.Equal(t, uint32(0xdeadbeef), r.Value)
	assert.Equal(t, uint8(64), r.Chip)
	assert.Equal(t, uint8(0x28), r.JobID)
	assert.Equal(t, uint8(3), r.Core)
	assert.Equal(t, uint32(0x00ffe000), r.VersionBits)

	r, ok, err = d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindRegister, r.Kind)
	assert.Equal(t, uint32(0x13700000), r.Value)

	_, ok, _ = d.Next()
	assert.False(t, ok)
}

func TestDecoderResync(t *testing.T) {
	good := EncodeResponse(Response{Kind: KindNonce, Chip: 1, JobID: 8, Value: 0x01020304})
	bad := append([]byte(nil), good...)
	bad[5] ^= 0x10

	var d Decoder
	d.Feed([]byte{0x00, 0x13, 0xaa})
	d.Feed(good[1:])
	d.Feed([]byte{0x77, 0x01})
	d.Feed(bad)
	d.Feed(good)

	var got []Response
	corrupt := 0
	for {
		r, ok, err := d.Next()
		if err != nil {
			corrupt++
			continue
		}
		if !ok {
			break
		}
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 1, corrupt)
	assert.NotZero(t, d.Skipped)
	assert.Zero(t, d.Buffered())
}

func TestBitFlipsNeverYieldNonces(t *testing.T) {
	good := EncodeResponse(Response{Kind: KindNonce, Chip: 0, JobID: 0, Value: 0x11223344, VersionBits: 0x2000})
	for bit := 0; bit < len(good)*8; bit++ {
		frame := append([]byte(nil), good...)
		frame[bit/8] ^= 1 << (bit % 8)

		var d Decoder
		d.Feed(frame)
		for {
			r, ok, err := d.Next()
			if err != nil {
				continue
			}
			if !ok {
				break
			}
			t.Fatalf("bit %d: flipped frame decoded as %+v", bit, r)
		}
	}
}

func FuzzDecoder(f *testing.F) {
	f.Add(EncodeResponse(Response{Kind: KindNonce, Value: 1}))
	f.Add([]byte{0xaa, 0x55, 0xaa, 0x55, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		var d Decoder
		d.Feed(data)
		for i := 0; i <= len(data); i++ {
			r, ok, err := d.Next()
			if err != nil {
				continue
			}
			if !ok {
				return
			}
			// whatever decodes must carry a valid crc
			frame := EncodeResponse(r)
			if CRC5(frame[2:]) != 0 {
				t.Fatalf("decoded frame re-encodes with bad crc: %x", frame)
			}
		}
	})
}

func TestSolvePLL(t *testing.T) {
	for _, mhz := range []float64{50, 490, 500, 525, 600, 800} {
		p, ok := SolvePLL(mhz)
		require.True(t, ok, "%v MHz", mhz)
		assert.InDelta(t, mhz, p.MHz, pllTolerance)
		reg := p.Register()
		assert.Equal(t, p.FB, uint8(reg>>16))
		assert.Equal(t, p.Ref, uint8(reg>>8))
		if p.VCO() >= 2400 {
			assert.Equal(t, uint32(0x50), reg>>24)
		} else {
			assert.Equal(t, uint32(0x40), reg>>24)
		}
	}
	_, ok := SolvePLL(2)
	assert.False(t, ok)
}

func TestTicketMask(t *testing.T) {
	assert.Equal(t, uint32(0x000000ff), TicketMask(256))
	assert.Equal(t, uint32(0x000080ff), TicketMask(512))
	assert.Equal(t, uint32(0x000080ff), TicketMask(700))
	assert.Equal(t, uint32(0), TicketMask(0.5))
	assert.Equal(t, 512.0, TicketDifficulty(TicketMask(512)))
}

func testJob(t *testing.T, diff float64) *job.Job {
	en2, err := job.NewExtranonce2(4, 0)
	require.NoError(t, err)
	j, err := job.New(&job.Template{
		JobID:        "a1",
		Version:      0x20000000,
		VersionMask:  0x1fffe000,
		PrevHash:     chainhash.DoubleHashH([]byte("prev")),
		CoinB1:       []byte{0x01, 0x00},
		CoinB2:       []byte{0xff, 0xff},
		ExtraNonce1:  []byte{0xab, 0xcd},
		MerkleBranch: []chainhash.Hash{chainhash.DoubleHashH([]byte("tx"))},
		NTime:        0x66000000,
		NBits:        0x1703a30c,
	}, en2, diff)
	require.NoError(t, err)
	return j
}

func TestJobTableWraps(t *testing.T) {
	tbl := NewJobTable()
	var jobs []*job.Job
	for i := 0; i < 17; i++ {
		j := testJob(t, 1)
		jobs = append(jobs, j)
		id := tbl.Add(j)
		assert.Equal(t, uint8((i*8)%128), id)
	}
	assert.Same(t, jobs[16], tbl.Find(0))
	assert.Same(t, jobs[1], tbl.Find(8))
	assert.Same(t, jobs[1], tbl.Find(0x0b))
	assert.Equal(t, 16, tbl.Len())
	assert.Zero(t, tbl.RemoveStale(time.Now()))
	assert.Equal(t, 16, tbl.RemoveStale(time.Now().Add(time.Hour)))
}

func newTestChain(t *testing.T, chips, length int, sc SimConfig) (*Chain, *Simulator) {
	sc.Chips = chips
	if sc.Family.Name == "" {
		sc.Family = BM1370
	}
	sim := NewSimulator("data", sc)
	t.Cleanup(func() { sim.Close() })
	c := NewChain(sim, Config{BoardID: "b0", Family: BM1370, Length: length, EnumWindow: 20 * time.Millisecond})
	return c, sim
}

func TestSimulatorChecksCommandCRC(t *testing.T) {
	sim := NewSimulator("data", SimConfig{Chips: 1, Family: BM1370})
	defer sim.Close()

	f := ReadRegister(0, RegChipID, true)
	require.Equal(t, "55aa520500000a", hex.EncodeToString(f))
	_, err := sim.Write(f)
	require.NoError(t, err)
	assert.Zero(t, sim.CorruptFrames())

	buf := make([]byte, 64)
	n, err := sim.Read(buf, 100*time.Millisecond)
	require.NoError(t, err)
	var d Decoder
	d.Feed(buf[:n])
	r, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindRegister, r.Kind)
	assert.Equal(t, uint32(0x1370), r.Value>>16)

	bad := append([]byte(nil), f...)
	bad[len(bad)-1] ^= 0x01
	_, err = sim.Write(bad)
	require.NoError(t, err)
	_, err = sim.Write([]byte{0x55, 0xaa, 0x52, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, sim.CorruptFrames())

	_, err = sim.Read(buf, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestEnumerate(t *testing.T) {
	c, sim := newTestChain(t, 4, 4, SimConfig{})
	addrs, err := c.EnumerateChips(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 64, 128, 192}, addrs)
	assert.Equal(t, addrs, sim.Addresses())
	assert.Equal(t, addrs, c.Addresses())
}

func TestEnumerateFailures(t *testing.T) {
	tests := []struct {
		name   string
		chips  int
		length int
		sc     SimConfig
	}{
		{"no chips", 0, 1, SimConfig{}},
		{"short chain", 2, 3, SimConfig{}},
		{"wrong family", 1, 1, SimConfig{ChipID: 0x1397}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestChain(t, tt.chips, tt.length, tt.sc)
			_, err := c.EnumerateChips(context.Background())
			assert.ErrorIs(t, err, hwerr.ErrEnumeration)
			assert.True(t, hwerr.IsFatal(err))
			assert.Nil(t, c.Addresses())
		})
	}
}

func TestSetFrequency(t *testing.T) {
	c, sim := newTestChain(t, 2, 2, SimConfig{})
	ctx := context.Background()

	err := c.SetFrequency(ctx, Broadcast, 500)
	assert.ErrorIs(t, err, hwerr.ErrInvalidParameter, "before enumeration")

	_, err = c.EnumerateChips(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetFrequency(ctx, Broadcast, 5000), hwerr.ErrInvalidParameter)
	assert.ErrorIs(t, c.SetFrequency(ctx, Chip(7), 500), hwerr.ErrInvalidParameter)

	require.NoError(t, c.SetFrequency(ctx, Broadcast, 500))
	p, _ := SolvePLL(500)
	assert.Equal(t, p.Register(), sim.Register(0, RegPLL0))
	assert.Equal(t, p.Register(), sim.Register(1, RegPLL0))
	assert.Equal(t, 500.0, c.FrequencyMHz())

	require.NoError(t, c.SetFrequency(ctx, Chip(128), 525))
	p525, _ := SolvePLL(525)
	assert.Equal(t, p.Register(), sim.Register(0, RegPLL0))
	assert.Equal(t, p525.Register(), sim.Register(1, RegPLL0))

	c.pending.Store(true)
	assert.ErrorIs(t, c.SetFrequency(ctx, Broadcast, 500), ErrFrequencyPending)
}

func TestTicketAndVersionMask(t *testing.T) {
	c, sim := newTestChain(t, 1, 1, SimConfig{})
	ctx := context.Background()
	_, err := c.EnumerateChips(ctx)
	require.NoError(t, err)

	require.NoError(t, c.SetTicketDifficulty(ctx, 256))
	require.NoError(t, c.SetVersionMask(ctx, 0x1fffe000))
	assert.Equal(t, uint32(0xff), sim.Register(0, RegTicketMask))
	assert.Equal(t, uint32(0x9000ffff), sim.Register(0, RegVersionMask))
}

func TestSendJobAndPoll(t *testing.T) {
	const diff = 1.0 / (1 << 24)
	c, sim := newTestChain(t, 1, 1, SimConfig{MineDifficulty: diff})
	ctx := context.Background()
	_, err := c.EnumerateChips(ctx)
	require.NoError(t, err)

	j := testJob(t, diff)
	require.NoError(t, c.SendJob(ctx, Broadcast, j))

	w, ok := sim.LastJob()
	require.True(t, ok)
	assert.Equal(t, [32]byte(j.MerkleRoot), w.MerkleRoot)
	assert.Equal(t, j.NBits, w.NBits)

	nonces, err := c.PollNonces(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, nonces)
	for _, n := range nonces {
		assert.Equal(t, j.TraceID, n.JobTrace)
		assert.Equal(t, "b0", n.BoardID)
		res, share := job.Validate(j, n)
		assert.Equal(t, job.ResultShare, res)
		require.NotNil(t, share)
	}

	// the same result again is a duplicate, an unknown id is counted
	sim.InjectNonce(0, w.JobID, nonces[0].Value, 0)
	sim.InjectNonce(0, 0x40, 1, 0)
	again, err := c.PollNonces(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	st := c.Stats()
	assert.Equal(t, uint64(len(nonces)), st.Nonces)
	assert.Equal(t, uint64(1), st.Duplicates)
	assert.Equal(t, uint64(1), st.UnknownJobID)
	assert.Equal(t, uint64(1), st.JobsSent)
}

func TestPollDropsCorrupt(t *testing.T) {
	c, sim := newTestChain(t, 1, 1, SimConfig{})
	ctx := context.Background()
	_, err := c.EnumerateChips(ctx)
	require.NoError(t, err)
	j := testJob(t, 1)
	require.NoError(t, c.SendJob(ctx, Broadcast, j))

	frame := EncodeResponse(Response{Kind: KindNonce, JobID: 0, Value: 0x55667788})
	frame[3] ^= 0x04
	sim.InjectRaw(frame)
	sim.InjectRaw([]byte{0x01, 0x02, 0x03})

	nonces, err := c.PollNonces(ctx)
	require.NoError(t, err)
	assert.Empty(t, nonces)
	assert.Equal(t, uint64(1), c.Stats().Corrupt)
}

func TestPollAfterClose(t *testing.T) {
	c, sim := newTestChain(t, 1, 1, SimConfig{})
	sim.Close()
	_, err := c.PollNonces(context.Background())
	assert.ErrorIs(t, err, hwerr.ErrClosed)
}
