package hasher

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	cost = 10

	// MaxTokenBytes keeps the encoded token within the 72 bytes bcrypt reads.
	MaxTokenBytes = 54
	minTokenBytes = 16
)

// HashToken returns the bcrypt hash of an access token.
func HashToken(token []byte) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(token, cost)
	return string(bytes), err
}

func TokenCorrect(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// GenerateToken returns a random url-safe token built from length bytes.
func GenerateToken(length int) (string, error) {
	if length < minTokenBytes || length > MaxTokenBytes {
		return "", fmt.Errorf("token length %d outside [%d, %d]", length, minTokenBytes, MaxTokenBytes)
	}
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
