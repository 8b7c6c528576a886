package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateAdminKey generates an admin API key and the bcrypt hash stored in
// ADMIN_API_KEY_HASH
func GenerateAdminKey() (key, hash string, err error) {
	key, err = GenerateSecret(24)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate admin key: %w", err)
	}
	hash, err = HashAdminKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAdminKey returns the bcrypt hash of an admin key
func HashAdminKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin key: %w", err)
	}
	return string(hashed), nil
}

// CheckAdminKey reports whether key matches the stored bcrypt hash
func CheckAdminKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
