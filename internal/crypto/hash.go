// Package crypto hashes identity secrets with scrypt.
package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const scheme = "scrypt"

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed secret hash")

// Params are the scrypt cost parameters. They are stored with every hash so
// they can be raised later without invalidating existing secrets.
type Params struct {
	N, R, P int
	KeyLen  int
}

// DefaultParams suit interactive sign-ins.
var DefaultParams = Params{N: 1 << 14, R: 8, P: 1, KeyLen: 32}

func (p Params) derive(input, salt string) ([]byte, error) {
	dk, err := scrypt.Key([]byte(input), []byte(strings.ToLower(salt)), p.N, p.R, p.P, p.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return dk, nil
}

// HashIdentitySecret hashes an identity's secret phrase, salted with the
// identity id, as "scrypt$N$r$p$hex". The phrase is normalized to
// single-spaced lowercase words.
func HashIdentitySecret(secret, identityID string) (string, error) {
	return hashWith(DefaultParams, secret, identityID)
}

func hashWith(p Params, secret, identityID string) (string, error) {
	dk, err := p.derive(normalizeSecret(secret), identityID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s$%d$%d$%d$%s", scheme, p.N, p.R, p.P, hex.EncodeToString(dk)), nil
}

// VerifyIdentitySecret reports whether secret matches the stored hash,
// using the parameters recorded in it.
func VerifyIdentitySecret(secret, identityID, stored string) (bool, error) {
	p, want, err := parseHash(stored)
	if err != nil {
		return false, err
	}
	got, err := p.derive(normalizeSecret(secret), identityID)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parseHash(stored string) (Params, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 5 || parts[0] != scheme {
		return Params{}, nil, ErrMalformedHash
	}
	var nums [3]int
	for i, s := range parts[1:4] {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return Params{}, nil, ErrMalformedHash
		}
		nums[i] = n
	}
	key, err := hex.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return Params{}, nil, ErrMalformedHash
	}
	return Params{N: nums[0], R: nums[1], P: nums[2], KeyLen: len(key)}, key, nil
}

func normalizeSecret(secret string) string {
	return strings.Join(strings.Fields(strings.ToLower(secret)), " ")
}
