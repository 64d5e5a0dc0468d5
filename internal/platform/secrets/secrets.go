package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewToken genera un secreto de 256 bits en hex.
// El plaintext se entrega una sola vez al caller; nunca se persiste.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secrets: rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash devuelve el SHA-256 del token en hex.
// Es lo único que se guarda en storage.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
