package bm13xx

import (
	"math"

	"asic_miner/util"
)

const (
	refClockMHz  = 25.0
	pllTolerance = 1.0
	fbMin        = 0xa0
	fbMax        = 0xef
)

// PLL is one divider solution for the 25 MHz reference.
type PLL struct {
	FB    uint8
	Ref   uint8
	Post1 uint8
	Post2 uint8
	MHz   float64
}

func (p PLL) VCO() float64 {
	return refClockMHz * float64(p.FB) / float64(p.Ref)
}

// Register is the PLL0 value: flags, fb, ref, post dividers.
func (p PLL) Register() uint32 {
	flags := uint32(0x40)
	if p.VCO() >= 2400 {
		flags = 0x50
	}
	post := uint32(p.Post1-1)<<4 | uint32(p.Post2-1)
	return flags<<24 | uint32(p.FB)<<16 | uint32(p.Ref)<<8 | post
}

// SolvePLL finds the dividers closest to mhz. ok is false when nothing lands
// within a megahertz.
func SolvePLL(mhz float64) (PLL, bool) {
	best := PLL{}
	bestErr := math.Inf(1)
	for ref := uint8(2); ref >= 1; ref-- {
		for p1 := uint8(7); p1 >= 1; p1-- {
			for p2 := uint8(1); p2 <= p1; p2++ {
				div := float64(ref) * float64(p1) * float64(p2)
				fb := math.Round(mhz * div / refClockMHz)
				if fb < fbMin || fb > fbMax {
					continue
				}
				f := refClockMHz * fb / div
				if e := math.Abs(f - mhz); e < bestErr {
					bestErr = e
					best = PLL{FB: uint8(fb), Ref: ref, Post1: p1, Post2: p2, MHz: f}
				}
			}
		}
	}
	return best, bestErr <= pllTolerance
}

func reverseBits(b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		r = r<<1 | b&1
		b >>= 1
	}
	return r
}

// TicketMask encodes the largest power of two not above diff, minus one,
// with every byte bit reversed.
func TicketMask(diff float64) uint32 {
	d := uint64(1)
	if diff > 1 {
		d = util.ClosestPowerOf2(uint64(diff))
	}
	m := uint32(d - 1)
	var out uint32
	for i := 0; i < 4; i++ {
		out |= uint32(reverseBits(uint8(m>>(8*i)))) << (8 * i)
	}
	return out
}

// TicketDifficulty undoes TicketMask.
func TicketDifficulty(reg uint32) float64 {
	var m uint32
	for i := 0; i < 4; i++ {
		m |= uint32(reverseBits(uint8(reg>>(8*i)))) << (8 * i)
	}
	return float64(uint64(m) + 1)
}

// VersionMaskRegister carries the rolling mask shifted down by 13.
func VersionMaskRegister(mask uint32) uint32 {
	return 0x90000000 | (mask>>13)&0xffff
}
