package password

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnpqrstuvwxyz"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"
)

// Generate produces a random password of the requested length that is
// guaranteed to satisfy the hasher's own policy: one character from each
// required class up front, the rest drawn from the full alphabet, then a
// secure shuffle so the guaranteed characters do not sit at fixed
// positions.
func (h *Hasher) Generate(length int) (string, error) {
	if length < h.policy.MinLength {
		length = h.policy.MinLength
	}

	var required []string
	if h.policy.RequireUpper {
		required = append(required, upperChars)
	}
	if h.policy.RequireLower {
		required = append(required, lowerChars)
	}
	if h.policy.RequireDigit {
		required = append(required, digitChars)
	}
	if h.policy.RequireSpecial {
		required = append(required, specialChars)
	}
	if length < len(required) {
		return "", errors.New("length too short for required character classes")
	}

	alphabet := upperChars + lowerChars + digitChars + specialChars

	out := make([]byte, 0, length)
	for _, class := range required {
		c, err := randomByte(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomByte(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates with crypto/rand indices.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func randomByte(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// DummyHash hashes a random policy-compliant password and discards the
// plaintext. Callers can verify unknown identifiers against the result
// so that lookup misses cost the same as password mismatches.
func (h *Hasher) DummyHash() (string, error) {
	plaintext, err := h.Generate(32)
	if err != nil {
		return "", err
	}
	return h.Hash(plaintext)
}
