// Package cryptoprovider is the single seam through which the rest of
// the module consumes cryptographic primitives, per spec.md §1's
// non-goal "the system does not implement a cryptographic primitive
// library — it consumes SHA-256, AES-256-GCM, RS256/ES256, Argon2id from
// a platform provider." Nothing outside this package calls crypto/*
// directly for password hashing or at-rest encryption.
package cryptoprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"aegis/pkg/cose"
)

// Provider is the crypto seam every component depends on through an
// interface rather than a concrete package, so tests can swap in a
// deterministic fake.
type Provider interface {
	SHA256(data []byte) [32]byte
	RandomBytes(n int) ([]byte, error)
	VerifySignature(pubKey cose.Key, message, signature []byte) error
	ParseCOSEKey(raw []byte) (cose.Key, error)
	HashSecret(plaintext string) (string, error)
	VerifySecret(plaintext, encoded string) (bool, error)
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// Default is the stdlib/x-crypto backed Provider implementation.
type Default struct {
	aesKey [32]byte
}

// New builds a Default provider. aesKey must be exactly 32 bytes
// (AES-256); it encrypts secrets the repository layer stores at rest
// (session refresh tokens) per spec.md §3.
func New(aesKey [32]byte) *Default {
	return &Default{aesKey: aesKey}
}

func (d *Default) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (d *Default) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

func (d *Default) VerifySignature(pubKey cose.Key, message, signature []byte) error {
	return cose.Verify(pubKey, message, signature)
}

func (d *Default) ParseCOSEKey(raw []byte) (cose.Key, error) {
	return cose.Decode(raw)
}

// argon2Params follows the OWASP-recommended baseline for Argon2id.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MiB
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashSecret returns an encoded "argon2id$salt$hash" string. Used for
// recovery codes and any shared secret that must survive comparison
// without ever being stored in plaintext.
func (d *Default) HashSecret(plaintext string) (string, error) {
	salt, err := d.RandomBytes(argon2SaltLen)
	if err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(plaintext), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("argon2id$%s$%s", hex.EncodeToString(salt), hex.EncodeToString(hash)), nil
}

// VerifySecret compares plaintext against an encoded hash in constant time.
func (d *Default) VerifySecret(plaintext, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false, fmt.Errorf("unrecognized secret encoding")
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(plaintext), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Seal encrypts plaintext with AES-256-GCM, prefixing the nonce to the
// returned ciphertext. internal/session uses it to store refresh tokens
// at rest per spec.md §3's "encrypted-at-rest secret" requirement;
// credential attestation blobs are stored unsealed.
func (d *Default) Seal(plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(d.aesKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, err := d.RandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func (d *Default) Open(ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(d.aesKey[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, aad)
}
