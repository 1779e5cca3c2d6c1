package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost        = 12
	MinAdminKeyLength = 16
)

// HashAdminKey produces the bcrypt hash operators put into ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	if len(key) < MinAdminKeyLength {
		return "", fmt.Errorf("admin key must be at least %d characters long", MinAdminKeyLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckAdminKey(hashedKey string, key string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
	return err == nil
}
