package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	shareCodeLength   = 6
	shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O or 1/I
	shareCodeAttempts = 5
)

func newShareCode() (string, error) {
	limit := big.NewInt(int64(len(shareCodeAlphabet)))
	var b strings.Builder
	b.Grow(shareCodeLength)
	for i := 0; i < shareCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate share code: %w", err)
		}
		b.WriteByte(shareCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeShareCode uppercases and trims user input.
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
