package utils

import (
	"crypto/rand"
	"fmt"
)

// unambiguous when read aloud or copied by hand, no I or O
const tokenAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// RandomToken returns a random token of length characters from tokenAlphabet
func RandomToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length: %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = tokenAlphabet[int(buf[i])%len(tokenAlphabet)]
	}
	return string(buf), nil
}

// MaskSecret keeps a short prefix of s for logs. Empty stays empty.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "*****"
	}
	return s[:4] + "*****"
}
