package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

// Vault encrypts and decrypts PII fields with a randomized authenticated
// cipher (AES-256-GCM) keyed from a process-wide secret. Equal plaintexts
// never produce equal ciphertexts, so equality lookups go through LookupHash
// instead of the ciphertext.
type Vault struct {
	aead cipher.AEAD
}

// New derives the cipher key from the configured secret and returns a Vault.
func New(secret string) (*Vault, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Encrypt returns the base64 encoding of nonce||ciphertext. Empty input is
// the identity function so absent optional fields stay absent.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate nonce")
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed ciphertext or a failed authentication
// tag surfaces a decryption error; the raw token is never returned to the
// caller.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrDecryption.Code, appErrors.ErrDecryption.Status, "malformed ciphertext")
	}
	if len(raw) < v.aead.NonceSize() {
		return "", appErrors.Clone(appErrors.ErrDecryption, "ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrDecryption.Code, appErrors.ErrDecryption.Status, "ciphertext integrity check failed")
	}
	return string(plaintext), nil
}

// LookupHash returns the deterministic one-way digest of a canonicalized
// email, stored alongside the ciphertext purely as an equality index.
func LookupHash(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
