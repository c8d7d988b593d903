// Package password provides policy-aware password hashing, verification,
// strength scoring, and compliant generation on top of argon2id.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrWeakPassword is the sentinel all policy violations unwrap to.
var ErrWeakPassword = errors.New("password does not meet policy")

// PolicyError carries the specific composition rules a candidate password
// violated. It unwraps to [ErrWeakPassword].
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrWeakPassword }

// Policy holds the composition rules a plaintext must satisfy before it
// is accepted for hashing. Each character-class requirement toggles
// independently.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// Params are the argon2id cost parameters. Memory is in KB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords against a fixed policy and cost.
type Hasher struct {
	policy Policy
	params Params
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// New validates the cost parameters and returns a Hasher.
func New(policy Policy, params Params) (*Hasher, error) {
	if policy.MinLength < 1 {
		return nil, errors.New("password min length must be >= 1")
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}
	return &Hasher{policy: policy, params: params}, nil
}

// Validate checks the plaintext against the composition policy only.
// Returns a *PolicyError listing every violated rule, or nil.
func (h *Hasher) Validate(plaintext string) error {
	var violations []string

	if len(plaintext) < h.policy.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", h.policy.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if h.policy.RequireUpper && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if h.policy.RequireLower && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if h.policy.RequireDigit && !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if h.policy.RequireSpecial && !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// Hash validates the plaintext against the policy and, on success,
// produces a PHC-format argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := h.Validate(plaintext); err != nil {
		return "", err
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify recomputes the key with the parameters embedded in encodedHash
// and compares in constant time. A mismatch is (false, nil), not an error.
func (h *Hasher) Verify(plaintext, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports whether the stored hash was produced with weaker
// cost parameters than currently configured.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	if h.params.Memory > parsed.memory {
		return true, nil
	}
	if h.params.Time > parsed.time {
		return true, nil
	}
	if h.params.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.params.KeyLength != parsed.keyLength {
		return true, nil
	}

	return false, nil
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}

	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, errors.New("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseCostParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type costParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseCostParams(part string) (*costParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             costParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}

func validateParams(params Params) error {
	if params.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if params.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if params.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if params.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if params.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
