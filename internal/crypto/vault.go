// Package crypto protects OAuth tokens at rest with AES-256-GCM.
//
// Every call derives a fresh key from the caller's passphrase with PBKDF2
// (SHA-256, 100,000 iterations) over a random 16-byte salt and seals the
// plaintext under a random 12-byte IV. The stored form is the hex encoding of
//
//	salt (16) | iv (12) | auth tag (16) | ciphertext
//
// so encrypting the same value twice yields different strings, and decrypting
// with the wrong passphrase or a modified blob fails instead of returning garbage.
//
// Example usage:
//
//	vault, err := crypto.NewVault(cfg.LinkedIn.EncryptionKey)
//	if err != nil {
//		return err
//	}
//	sealed, err := vault.Encrypt(accessToken)
//	...
//	accessToken, err = vault.Decrypt(sealed)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"personalization-sync/internal/common/errors"
)

const (
	saltLength    = 16
	ivLength      = 12
	tagLength     = 16
	keyLength     = 32
	kdfIterations = 100000

	headerLength = saltLength + ivLength + tagLength
)

// Encrypt seals plaintext under a key derived from passphrase and returns the
// hex-encoded salt|iv|tag|ciphertext blob.
func Encrypt(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.EncryptionError("encryption key cannot be empty", nil)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.EncryptionError("failed to generate salt", err)
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", errors.EncryptionError("failed to generate iv", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	// Seal returns ciphertext|tag; the stored layout puts the tag first.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ctLen := len(sealed) - tagLength

	out := make([]byte, 0, headerLength+ctLen)
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)

	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Wrong passphrases, malformed input and tampered
// blobs all return an encryption error.
func Decrypt(ciphertext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.EncryptionError("encryption key cannot be empty", nil)
	}

	data, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", errors.EncryptionError("ciphertext is not valid hex", err)
	}
	if len(data) < headerLength {
		return "", errors.EncryptionError("ciphertext too short", nil)
	}

	salt := data[:saltLength]
	iv := data[saltLength : saltLength+ivLength]
	tag := data[saltLength+ivLength : headerLength]
	body := data[headerLength:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(body)+tagLength)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", errors.EncryptionError("failed to decrypt: wrong key or corrupted data", err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.EncryptionError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.EncryptionError("failed to create GCM", err)
	}
	return gcm, nil
}

// Vault binds a passphrase so callers do not pass the key around.
// It is safe for concurrent use.
type Vault struct {
	passphrase string
}

// NewVault returns a Vault for passphrase, or a configuration error if it is empty.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.ConfigurationError("token encryption key is not configured")
	}
	return &Vault{passphrase: passphrase}, nil
}

// Encrypt seals plaintext with the vault's passphrase.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, v.passphrase)
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	return Decrypt(ciphertext, v.passphrase)
}
