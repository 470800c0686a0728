package util

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func ToString(x interface{}) string {
	if x == nil {
		return ""
	}
	return fmt.Sprintf("%v", x)
}

func ToStringArray(x []interface{}) []string {
	a := make([]string, len(x))
	for i := range a {
		a[i] = ToString(x[i])
	}
	return a
}

func ToUint(x interface{}) (uint, error) {
	v, err := strconv.ParseFloat(ToString(x), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("not an unsigned number: %v", x)
	}
	return uint(v), nil
}

func ToBool(x interface{}) bool {
	b, ok := x.(bool)
	return ok && b
}

// UrlToDomain keeps the last two labels of the host, "" when it does not parse.
func UrlToDomain(rawUrl string) string {
	rawUrl = strings.TrimSpace(rawUrl)
	u, err := url.ParseRequestURI(rawUrl)
	if err != nil || u.Host == "" {
		u, err = url.ParseRequestURI("https://" + rawUrl)
		if err != nil {
			return ""
		}
	}
	parts := strings.Split(u.Hostname(), ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "." + parts[len(parts)-1]
}

// SwapBytes reverses the byte order inside every 32-bit word of a hex string.
// Stratum sends prevhash as eight little-endian words.
func SwapBytes(in string) string {
	in_byte := []byte(in)
	out := make([]byte, len(in_byte))

	// two hex digits per byte, eight per uint32
	n := len(in) / 8
	for i := 0; i < n; i++ {
		out[i*8+0] = in_byte[i*8+6]
		out[i*8+1] = in_byte[i*8+7]
		out[i*8+2] = in_byte[i*8+4]
		out[i*8+3] = in_byte[i*8+5]
		out[i*8+4] = in_byte[i*8+2]
		out[i*8+5] = in_byte[i*8+3]
		out[i*8+6] = in_byte[i*8+0]
		out[i*8+7] = in_byte[i*8+1]
	}
	copy(out[n*8:], in_byte[n*8:])

	return string(out)
}

func BEHexToUint32(in string) (uint32, error) {
	val, err := hex.DecodeString(strings.TrimPrefix(in, "0x"))
	if err != nil {
		return 0, err
	}
	if len(val) != 4 {
		return 0, fmt.Errorf("want 4 bytes, got %d", len(val))
	}
	return binary.BigEndian.Uint32(val), nil
}

// ClosestPowerOf2 returns the largest power of two not above n. Zero maps to 1.
func ClosestPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p <= n/2 {
		p <<= 1
	}
	return p
}
