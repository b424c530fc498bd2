// Package token generates opaque session tokens.
package token

import "crypto/rand"

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// Length is the token length. 62^16 values make collisions across
	// concurrent logins for the same account negligible.
	Length = 16
)

// New returns a fresh session token: Length characters drawn uniformly from a
// high-entropy alphanumeric alphabet. Regenerated on every login; never reused.
func New() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; treat failure as fatal.
		panic("token: rand.Read: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}
