package secure

// XORKeyStream applies the firmware stream cipher to data and returns the
// result in a new slice. Byte i is combined with key[i % len(key)], so the same
// call both encrypts and decrypts.
func XORKeyStream(key, data []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
