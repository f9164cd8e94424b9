package link

// CRC8Poly is the CRC-8 generator polynomial x^8+x^2+x+1.
const CRC8Poly byte = 0x07

// CRC8 computes CRC-8 (poly 0x07, init 0, MSB-first, no reflection) over data.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = CRC8Update(crc, b)
	}
	return crc
}

// CRC8Update folds a single byte into crc.
func CRC8Update(crc, b byte) byte {
	crc ^= b
	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = crc<<1 ^ CRC8Poly
		} else {
			crc <<= 1
		}
	}
	return crc
}
