package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// RandomDigits returns a uniformly random decimal string of length digits.
func RandomDigits(digits int) (string, error) {
	if digits <= 0 || digits > 32 {
		return "", errors.New("invalid digit count")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
