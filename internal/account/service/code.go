package service

import (
	"crypto/rand"
	"strings"
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// newReferralCode draws from an alphabet without I, L, O and U so codes
// survive being read aloud.
func newReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(referralCodeLength)
	for _, v := range buf {
		// 256 is a multiple of 32, so the modulo is unbiased.
		b.WriteByte(referralCodeAlphabet[int(v)%len(referralCodeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeReferralCode trims and upper-cases user input.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
