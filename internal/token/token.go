// Package token generates member login tokens.
package token

import (
	"crypto/rand"
	"errors"
)

// Length is the number of characters in a token.
const Length = 8

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxAttempts bounds GenerateUnique when the token space is nearly exhausted.
const maxAttempts = 100

// ErrExhausted is returned when no unused token could be found.
var ErrExhausted = errors.New("could not generate an unused token")

// Generate returns a random uppercase alphanumeric token.
func Generate() string {
	var out [Length]byte
	var buf [2 * Length]byte
	n := 0
	for n < Length {
		_, _ = rand.Read(buf[:])
		for _, b := range buf {
			// 252 is the largest multiple of len(alphabet) below 256.
			if b >= 252 {
				continue
			}
			out[n] = alphabet[int(b)%len(alphabet)]
			if n++; n == Length {
				break
			}
		}
	}
	return string(out[:])
}

// GenerateUnique returns a token for which taken reports false.
func GenerateUnique(taken func(string) bool) (string, error) {
	for range maxAttempts {
		if t := Generate(); !taken(t) {
			return t, nil
		}
	}
	return "", ErrExhausted
}

// Valid reports whether s has the shape of a generated token.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
