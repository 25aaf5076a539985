package common

// Checksum XORs every byte of data. It cannot see two flips of the same bit
// at the same byte offset, nor bytes that swap places.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum ^= uint16(b)
	}
	return sum
}
