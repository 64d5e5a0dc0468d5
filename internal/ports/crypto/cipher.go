package crypto

import "context"

// Cipher es el servicio externo de cifrado simétrico para confidencialidad
// de notas. Este core lo trata como opaco: texto entra, texto sale.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}
