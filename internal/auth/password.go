package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the adaptive password hashing primitive.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher hashes with bcrypt; zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash implements Hasher.
func (b BcryptHasher) Hash(password string) (string, error) {
	return HashPassword(password, b.Cost)
}

// Verify implements Hasher.
func (b BcryptHasher) Verify(hash, password string) bool {
	return VerifyPassword(hash, password) == nil
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
