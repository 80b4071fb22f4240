// Package vault provides authenticated encryption for credentials at rest.
// Tokens are sealed with AES-256-GCM under a key derived from the process
// secret, and stored as "iv:ciphertext:tag" with each segment hex-encoded.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/openforum/skyrelay/internal/domain/model"
)

// ErrSecretNotSet is returned by New when the process secret is empty.
var ErrSecretNotSet = errors.New("vault secret not configured: set SKYRELAY_SECRET_KEY")

const (
	keyIterations = 100_000
	keyLength     = 32 // AES-256.
	tagLength     = 16 // GCM tag size.
)

// Vault seals and opens credential blobs with a key derived from a single
// process-wide secret. The derivation is deterministic (the salt is a hash of
// the secret itself), so no external salt storage is needed and every process
// sharing the secret can open every blob.
type Vault struct {
	key []byte
}

// New derives the AES key from secret using PBKDF2-SHA256 with 100k rounds.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrSecretNotSet
	}
	salt := sha256.Sum256([]byte(secret))
	key := pbkdf2.Key([]byte(secret), salt[:], keyIterations, keyLength, sha256.New)
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext and returns "iv:ciphertext:tag" (hex segments).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; split it back out so the
	// stored form carries the three segments explicitly.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens a blob produced by Encrypt. A malformed blob or a failed
// integrity check yields a model.KindEncryption error; such records must be
// treated as corrupted and re-linked, not retried.
func (v *Vault) Decrypt(blob string) (string, error) {
	iv, ct, tag, err := splitBlob(blob)
	if err != nil {
		return "", err
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() {
		return "", model.EncryptionError("credential blob has wrong iv length", nil)
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", model.EncryptionError("credential blob failed integrity check", err)
	}
	return string(plaintext), nil
}

// IsWellFormed reports whether blob has the three-hex-segment structure,
// without decrypting. Used to validate stored rows before attempting to use
// them.
func IsWellFormed(blob string) bool {
	_, _, _, err := splitBlob(blob)
	return err == nil
}

// ConstantTimeEquals compares two credential strings in constant time.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func splitBlob(blob string) (iv, ct, tag []byte, err error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, nil, nil, model.EncryptionError("credential blob must have iv:ciphertext:tag segments", nil)
	}

	segs := make([][]byte, 3)
	for i, p := range parts {
		seg, decErr := hex.DecodeString(p)
		if decErr != nil {
			return nil, nil, nil, model.EncryptionError("credential blob segment is not hex", decErr)
		}
		segs[i] = seg
	}
	if len(segs[2]) != tagLength {
		return nil, nil, nil, model.EncryptionError("credential blob has wrong tag length", nil)
	}
	return segs[0], segs[1], segs[2], nil
}
