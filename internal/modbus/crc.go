package modbus

// crc16 computes the MODBUS RTU CRC (polynomial 0xA001, initial value 0xFFFF).
// The result is sent low byte first.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// appendCRC appends the CRC of frame to it.
func appendCRC(frame []byte) []byte {
	crc := crc16(frame)

	return append(frame, byte(crc), byte(crc>>8))
}

func validCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	n := len(frame) - 2

	return crc16(frame[:n]) == uint16(frame[n])|uint16(frame[n+1])<<8
}
