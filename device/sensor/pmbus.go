package sensor

import (
	"math"
)

// DecodeLinear11 decodes the PMBus LINEAR11 format: 5-bit exponent, 11-bit mantissa.
func DecodeLinear11(raw uint16) float64 {
	exp := int(int16(raw) >> 11)
	mant := int(int16(raw<<5) >> 5)
	return float64(mant) * math.Pow(2, float64(exp))
}

// EncodeLinear11 picks the smallest exponent that keeps the mantissa in range.
func EncodeLinear11(v float64) uint16 {
	for exp := -16; exp <= 15; exp++ {
		m := math.Round(v / math.Pow(2, float64(exp)))
		if m >= -1024 && m <= 1023 {
			return uint16(exp&0x1f)<<11 | uint16(int(m)&0x7ff)
		}
	}
	return 0x7bff
}

func voutExponent(mode uint8) int {
	return int(int8(mode<<3) >> 3)
}

// DecodeULinear16 uses the exponent from VOUT_MODE.
func DecodeULinear16(raw uint16, mode uint8) float64 {
	return float64(raw) * math.Pow(2, float64(voutExponent(mode)))
}

func EncodeULinear16(v float64, mode uint8) uint16 {
	r := math.Round(v / math.Pow(2, float64(voutExponent(mode))))
	return uint16(math.Max(0, math.Min(math.MaxUint16, r)))
}
