// Package domain defines the core domain models for ChatMesh.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// User constraints.
const (
	MaxUsernameLength = 128
)

// User is the opaque identity returned by the auth boundary.
type User struct {
	// ID is the stable user identifier derived from the username.
	ID string `json:"id"`

	// Username is the login name the user authenticated with.
	Username string `json:"username"`
}

// NewUser creates a User with a deterministic ID for the username.
//
// The ID is a version-5 UUID over the DNS namespace, so the same
// username resolves to the same identity on every node without any
// coordination.
func NewUser(username string) *User {
	return &User{
		ID:       uuid.NewSHA1(uuid.NameSpaceDNS, []byte(username)).String(),
		Username: username,
	}
}

// Validate validates the user fields against constraints.
// Returns a DomainError with code CM-ARG-4003 if validation fails.
func (u *User) Validate() error {
	var violations []string

	if u.Username == "" {
		violations = append(violations, "username is required")
	}
	if len(u.Username) > MaxUsernameLength {
		violations = append(violations, "username exceeds 128 characters")
	}
	if strings.TrimSpace(u.Username) != u.Username {
		violations = append(violations, "username has leading or trailing whitespace")
	}

	if len(violations) > 0 {
		return ErrUserValidation.WithDetails(strings.Join(violations, "; "))
	}

	return nil
}
