package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// Provider authenticates login credentials and resolves the stable
// user identity behind them. Identities are derived from the username
// alone, so the same login maps to the same user id on every node.
type Provider interface {
	// Authenticate checks credentials and returns the user identity.
	// Rejections surface as ErrInvalidCredentials regardless of which
	// check failed.
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

// Argon2id parameters. Hash format:
// $argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>
const (
	argonTime    = 2
	argonMemory  = 16384
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ============================================================================
// StaticProvider
// ============================================================================

// StaticProvider authenticates against an in-memory credential table.
// With no table configured it accepts any well-formed username with a
// non-empty password, which is the develop-and-demo mode where nodes
// hand out identities freely.
type StaticProvider struct {
	users map[string]string // username -> plaintext password
}

// NewStaticProvider creates a StaticProvider. A nil or empty map
// switches the provider into accept-all mode.
func NewStaticProvider(users map[string]string) *StaticProvider {
	return &StaticProvider{users: users}
}

// Authenticate implements Provider.
func (p *StaticProvider) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user := domain.NewUser(username)
	if err := user.Validate(); err != nil {
		return nil, domain.ErrInvalidCredentials.WithCause(err)
	}
	if password == "" {
		return nil, domain.ErrInvalidCredentials.WithDetails("empty password")
	}

	if len(p.users) > 0 {
		expected, ok := p.users[username]
		// Compare even on a miss so lookups take the same time either way.
		if subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 || !ok {
			return nil, domain.ErrInvalidCredentials
		}
	}

	return user, nil
}

// ============================================================================
// FileProvider
// ============================================================================

// FileProvider authenticates against a JSON credential file mapping
// usernames to Argon2id hashes:
//
//	{"alice": "$argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>"}
//
// The file is read once at construction.
type FileProvider struct {
	hashes map[string]string // username -> argon2id hash
}

// NewFileProvider loads the credential file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	hashes := make(map[string]string)
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return nil, fmt.Errorf("parse credentials file %s: %w", path, err)
	}

	return &FileProvider{hashes: hashes}, nil
}

// Authenticate implements Provider.
func (p *FileProvider) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user := domain.NewUser(username)
	if err := user.Validate(); err != nil {
		return nil, domain.ErrInvalidCredentials.WithCause(err)
	}

	hash, ok := p.hashes[username]
	if !ok {
		// Burn a hash computation so unknown usernames cost the same
		// as wrong passwords.
		verifyArgon2Hash(password, unknownUserHash)
		return nil, domain.ErrInvalidCredentials
	}

	if !verifyArgon2Hash(password, hash) {
		return nil, domain.ErrInvalidCredentials
	}

	return user, nil
}

// unknownUserHash is a throwaway hash of random bytes, used to keep
// the unknown-username path as slow as the wrong-password path.
var unknownUserHash = func() string {
	h, err := HashPassword("chatmesh-unknown-user-placeholder")
	if err != nil {
		return ""
	}
	return h
}()

// ============================================================================
// Argon2id Hashing
// ============================================================================

// HashPassword hashes a password for storage in a credential file.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2Hash verifies a password against an Argon2id hash.
func verifyArgon2Hash(password, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false
	}

	if parts[1] != "argon2id" {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(expected)))

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
