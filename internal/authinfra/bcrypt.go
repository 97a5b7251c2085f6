// Package authinfra adapts golang.org/x/crypto/bcrypt to the
// authverifier.PasswordVerifier contract. It deliberately lives outside
// internal/authverifier: password-hashing primitives are an external
// collaborator to the core (spec.md §1), not part of it.
package authinfra

import "golang.org/x/crypto/bcrypt"

// BcryptVerifier hashes and compares passwords with bcrypt.
type BcryptVerifier struct {
	Cost int
}

// NewBcryptVerifier builds a BcryptVerifier at the given cost, falling back
// to bcrypt.DefaultCost when cost is out of bcrypt's valid range.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{Cost: cost}
}

// Hash produces a bcrypt hash of password.
func (b *BcryptVerifier) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare reports whether password matches hash.
func (b *BcryptVerifier) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
