package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunr/backend/internal/crypto"
	"github.com/tunr/backend/internal/db"
	"github.com/tyler-smith/go-bip39"
	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
// Two words plus a number gives 2048 × 2048 × 100 = 419 million display names.
var wordlist = wordlists.English

// ErrBadSecret is returned when a secret does not match its identity.
var ErrBadSecret = errors.New("identity secret mismatch")

// IdentityStore is the persistence IdentityService needs.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, id, displayName, secretHash string) (db.Identity, error)
	Identity(ctx context.Context, id string) (db.Identity, error)
	DisplayNameExists(ctx context.Context, name string) (bool, error)
}

// NewIdentity is a freshly provisioned anonymous identity. Secret is only
// ever returned here; the store keeps its scrypt hash.
type NewIdentity struct {
	ID          string
	DisplayName string
	Secret      string
}

// IdentityService provisions anonymous identities: a uuid, a BIP39 secret
// phrase and a human-readable display name like "HappyTiger42".
type IdentityService struct {
	store IdentityStore

	mu  sync.Mutex
	rng *rand.Rand
}

// NewIdentityService creates an IdentityService with its own random source.
func NewIdentityService(store IdentityStore) *IdentityService {
	return &IdentityService{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create provisions a new identity with a unique display name.
func (s *IdentityService) Create(ctx context.Context) (NewIdentity, error) {
	name, err := s.uniqueName(ctx)
	if err != nil {
		return NewIdentity{}, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return NewIdentity{}, err
	}

	id := uuid.NewString()
	hash, err := crypto.HashIdentitySecret(secret, id)
	if err != nil {
		return NewIdentity{}, fmt.Errorf("hash identity secret: %w", err)
	}
	if _, err := s.store.CreateIdentity(ctx, id, name, hash); err != nil {
		return NewIdentity{}, fmt.Errorf("create identity: %w", err)
	}
	return NewIdentity{ID: id, DisplayName: name, Secret: secret}, nil
}

// Get returns the identity with id.
func (s *IdentityService) Get(ctx context.Context, id string) (db.Identity, error) {
	return s.store.Identity(ctx, id)
}

// Verify checks secret against the stored hash for id.
func (s *IdentityService) Verify(ctx context.Context, id, secret string) (db.Identity, error) {
	ident, err := s.store.Identity(ctx, id)
	if err != nil {
		return db.Identity{}, err
	}
	ok, err := crypto.VerifyIdentitySecret(secret, id, ident.SecretHash)
	if err != nil {
		return db.Identity{}, err
	}
	if !ok {
		return db.Identity{}, ErrBadSecret
	}
	return ident, nil
}

// uniqueName retries if collisions occur.
// Returns an error if no unique name can be found after 100 attempts.
func (s *IdentityService) uniqueName(ctx context.Context) (string, error) {
	maxAttempts := 100
	for i := 0; i < maxAttempts; i++ {
		name := s.GenerateName()
		exists, err := s.store.DisplayNameExists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to check name existence: %w", err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique name after %d attempts", maxAttempts)
}

// GenerateName creates a random display name without uniqueness checking.
// Returns a PascalCase name like "HappyTiger42".
func (s *IdentityService) GenerateName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	word1 := wordlist[s.rng.Intn(len(wordlist))]
	word2 := wordlist[s.rng.Intn(len(wordlist))]
	num := s.rng.Intn(100)
	return fmt.Sprintf("%s%s%d", capitalize(word1), capitalize(word2), num)
}

// GenerateSecret returns a 12-word BIP39 mnemonic from 128 bits of entropy.
func GenerateSecret() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// capitalize returns the string with its first letter uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
