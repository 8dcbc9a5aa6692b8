package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonKeyLen  = 32 // output hash length
	argonSaltLen = 16 // salt length
)

// HashParams are the Argon2id cost parameters embedded in every hash.
type HashParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultHashParams returns the target cost: 64 MiB, 3 passes, 4 lanes.
func DefaultHashParams() HashParams {
	return HashParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

var errMalformedHash = errors.New("malformed password hash")

// PasswordHasher hashes and verifies passwords with Argon2id.
//
// Hashing is deliberately expensive. Only call it from credential checks.
type PasswordHasher struct {
	params HashParams
}

// NewPasswordHasher returns a hasher producing hashes with params.
func NewPasswordHasher(params HashParams) *PasswordHasher {
	return &PasswordHasher{params: params}
}

// Hash returns the PHC encoding of password under a fresh random salt:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := h.params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. A malformed or
// foreign hash yields false, never an error.
func (h *PasswordHasher) Verify(encodedHash, password string) bool {
	salt, key, params, err := decodePHC(encodedHash)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key))) //nolint:gosec // G115: key length always fits uint32

	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// NeedsRehash reports whether encodedHash was produced with parameters other
// than the hasher's current ones. Unparseable hashes need a rehash.
func (h *PasswordHasher) NeedsRehash(encodedHash string) bool {
	_, key, params, err := decodePHC(encodedHash)
	if err != nil {
		return true
	}
	return params != h.params || len(key) != argonKeyLen
}

// decodePHC parses an Argon2id PHC string into salt, key and parameters.
func decodePHC(encoded string) (salt, key []byte, params HashParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, errMalformedHash
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("%w: unsupported algorithm %q", errMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: version", errMalformedHash)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: parameters", errMalformedHash)
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, nil, params, fmt.Errorf("%w: zero cost parameter", errMalformedHash)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, params, fmt.Errorf("%w: salt", errMalformedHash)
	}

	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, nil, params, fmt.Errorf("%w: key", errMalformedHash)
	}

	return salt, key, params, nil
}
