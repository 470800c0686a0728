package control

// CRC8 is the SMBus PEC polynomial x^8 + x^2 + x + 1, init 0.
func CRC8(data []byte) uint8 {
	var crc uint8

	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
