package service

import "math/rand/v2"

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeLength   = 6
)

// GenerateExtractCode returns a fixed-length code drawn uniformly from a
// 62-symbol alphanumeric alphabet. Codes are access keys comparable to a
// short password, not security tokens: callers accept brute-force risk over
// the retention window, so a non-cryptographic PRNG is fine. Uniqueness among
// active records is enforced at the store, not here.
func GenerateExtractCode() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(buf)
}
