package service

import (
	"crypto/rand"
	"math/big"

	"kajabook/internal/models"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newBookingCode returns a short public code such as "kaja022a1".
func newBookingCode() (string, error) {
	buf := make([]byte, models.BookingCodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return models.BookingCodePrefix + string(buf), nil
}
