package redemption

import (
	"crypto/rand"
)

const DisplayCodeLength = 8

// displayCodeAlphabet omits 0/O and 1/I to keep codes readable over a counter.
const displayCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateNumericPin(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = digits[int(b[i])%len(digits)]
	}
	return string(b)
}

func generateDisplayCode(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = displayCodeAlphabet[int(b[i])%len(displayCodeAlphabet)]
	}
	return string(b)
}
