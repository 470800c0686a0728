package bm13xx

// crc5Bits runs CRC5-USB (poly 0x05, init 0x1f, MSB first) over the first
// nbits of data.
func crc5Bits(data []byte, nbits int) uint8 {
	crc := uint8(0x1f)
	for i := 0; i < nbits; i++ {
		bit := (data[i/8] >> (7 - uint(i%8))) & 1
		top := (crc >> 4) & 1
		crc = (crc << 1) & 0x1f
		if bit^top != 0 {
			crc ^= 0x05
		}
	}
	return crc
}

func CRC5(data []byte) uint8 {
	return crc5Bits(data, len(data)*8)
}

// CRC16 is CRC-16/CCITT-FALSE.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
