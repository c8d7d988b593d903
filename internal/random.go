package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// SecretSize is the length in bytes of an opaque refresh-token secret.
const SecretSize = 32

const (
	sessionIDSize       = 16
	refreshTokenRawSize = 16 + SecretSize
)

// NewSessionID returns a high-entropy session identifier encoded as
// unpadded base64url.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewSecret returns a fresh refresh-token secret.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret returns the SHA-256 digest of a refresh-token secret. Only
// the digest is ever persisted.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs a refresh-token record ID (a UUID) and its
// secret into one opaque base64url string handed to the client.
func EncodeRefreshToken(recordID string, secret [SecretSize]byte) (string, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:16], id[:])
	copy(raw[16:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque refresh token back into the record
// ID and the secret. The secret is not validated here; callers compare
// its hash against the stored digest.
func DecodeRefreshToken(token string) (string, [SecretSize]byte, error) {
	var secret [SecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	id, err := uuid.FromBytes(raw[:16])
	if err != nil {
		return "", secret, err
	}
	copy(secret[:], raw[16:])

	return id.String(), secret, nil
}
