package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"freshchain/internal/domain"
)

// ForbiddenError indicates the caller's role may not perform an action.
type ForbiddenError struct {
	Action domain.Action
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Action)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// NotOwnerError indicates the caller acts on an entity owned by someone else.
type NotOwnerError struct {
	Kind string
	ID   string
}

func (e NotOwnerError) Error() string {
	return fmt.Sprintf("%s %s belongs to another user", e.Kind, e.ID)
}

var ErrInvalidCredentials = errors.New("invalid username or password")

// Principal is the authenticated caller of an engine operation.
type Principal struct {
	UserID   string
	Username string
	Role     domain.Role
}

// Require checks the role table for a.
func (p Principal) Require(a domain.Action) error {
	if domain.RoleProfile(p.Role).Allows(a) {
		return nil
	}
	return ForbiddenError{Action: a, Role: p.Role}
}

// Owns reports whether the principal may act on an entity owned by ownerID.
// Admins act on behalf of anyone.
func (p Principal) Owns(ownerID string) bool {
	return p.Role == domain.RoleAdmin || p.UserID == ownerID
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword returns ErrInvalidCredentials on mismatch.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
